package auth

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"

	"studiodesk.app/internal/ids"
)

// PasswordResetLedger issues single-use reset tokens and consumes them.
type PasswordResetLedger struct {
	store PasswordResetStore
	codec *TokenCodec
	ledgerOptions
}

// NewPasswordResetLedger creates a ledger over store.
func NewPasswordResetLedger(store PasswordResetStore, codec *TokenCodec, opts ...LedgerOption) *PasswordResetLedger {
	return &PasswordResetLedger{
		store:         store,
		codec:         codec,
		ledgerOptions: buildLedgerOptions(opts),
	}
}

// Issue signs a reset token for userID and persists its record. Every call
// creates a new independent token.
func (l *PasswordResetLedger) Issue(ctx context.Context, userID string) (IssuedToken, error) {
	claims := Claims{
		Purpose:          ResetPurpose,
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
	}
	token, exp, err := l.codec.Sign(claims, ResetToken, ResetTokenTTL)
	if err != nil {
		return IssuedToken{}, err
	}
	rec := &PasswordResetRecord{
		ID:        ids.New(),
		TokenHash: HashToken(token),
		UserID:    userID,
		ExpiresAt: exp,
		CreatedAt: l.now().UTC(),
	}
	if err := l.store.CreatePasswordReset(ctx, rec); err != nil {
		return IssuedToken{}, oops.Code("RESET_CREATE_FAILED").With("user_id", userID).Wrap(err)
	}
	return IssuedToken{Token: token, ExpiresAt: exp}, nil
}

// Check verifies token and its record. Bad signature, expiry, unknown,
// used or expired records all fail with ErrInvalidOrExpiredToken.
func (l *PasswordResetLedger) Check(ctx context.Context, token string) (*PasswordResetRecord, error) {
	claims, err := l.codec.Verify(token, ResetToken)
	if err != nil {
		return nil, invalidResetToken("signature")
	}
	if claims.Purpose != ResetPurpose {
		return nil, invalidResetToken("purpose")
	}

	rec, err := l.store.FindPasswordReset(ctx, HashToken(token))
	if errors.Is(err, ErrNotFound) {
		return nil, invalidResetToken("unknown")
	}
	if err != nil {
		return nil, oops.Code("RESET_LOOKUP_FAILED").Wrap(err)
	}
	if rec.UserID != claims.Subject {
		return nil, invalidResetToken("subject mismatch")
	}
	if rec.Used {
		return nil, invalidResetToken("used")
	}
	if !l.now().Before(rec.ExpiresAt) {
		return nil, invalidResetToken("expired")
	}
	return rec, nil
}

// Consume marks rec used and stores passwordHash in one transaction. A
// concurrent consumer that lost the race gets ErrInvalidOrExpiredToken.
func (l *PasswordResetLedger) Consume(ctx context.Context, rec *PasswordResetRecord, passwordHash string) error {
	_, err := l.store.ConsumePasswordReset(ctx, rec.TokenHash, passwordHash, l.now().UTC())
	if errors.Is(err, ErrRecordConsumed) {
		return invalidResetToken("concurrent use")
	}
	if err != nil {
		return oops.Code("RESET_CONSUME_FAILED").
			With("user_id", rec.UserID).
			With("record_id", rec.ID).
			Wrap(err)
	}
	return nil
}
