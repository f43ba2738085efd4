package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"

	"studiodesk.app/internal/ids"
)

// IssuedToken is a freshly signed token and its expiry.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

// HashToken returns the SHA-256 hex digest under which a token is stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// LedgerOption configures the token ledgers.
type LedgerOption func(*ledgerOptions)

type ledgerOptions struct {
	now           func() time.Time
	logger        *slog.Logger
	recorder      Recorder
	revokeOnReuse bool
}

// WithLedgerClock overrides the time source (tests).
func WithLedgerClock(fn func() time.Time) LedgerOption {
	return func(o *ledgerOptions) {
		if fn != nil {
			o.now = fn
		}
	}
}

// WithLedgerLogger sets the logger used for security events.
func WithLedgerLogger(logger *slog.Logger) LedgerOption {
	return func(o *ledgerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLedgerRecorder sets the outcome recorder.
func WithLedgerRecorder(r Recorder) LedgerOption {
	return func(o *ledgerOptions) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithRevokeOnReuse makes the refresh ledger revoke every refresh token of a
// user once one of their revoked tokens is presented again.
func WithRevokeOnReuse(enabled bool) LedgerOption {
	return func(o *ledgerOptions) {
		o.revokeOnReuse = enabled
	}
}

func buildLedgerOptions(opts []LedgerOption) ledgerOptions {
	o := ledgerOptions{
		now:      time.Now,
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// RefreshTokenLedger issues, validates, rotates and revokes refresh tokens.
type RefreshTokenLedger struct {
	store RefreshTokenStore
	codec *TokenCodec
	ledgerOptions
}

// NewRefreshTokenLedger creates a ledger over store.
func NewRefreshTokenLedger(store RefreshTokenStore, codec *TokenCodec, opts ...LedgerOption) *RefreshTokenLedger {
	return &RefreshTokenLedger{
		store:         store,
		codec:         codec,
		ledgerOptions: buildLedgerOptions(opts),
	}
}

// Issue signs a refresh token for userID and persists its record before
// returning it. Refresh claims carry the subject only.
func (l *RefreshTokenLedger) Issue(ctx context.Context, userID string) (IssuedToken, error) {
	token, rec, err := l.mint(userID)
	if err != nil {
		return IssuedToken{}, err
	}
	if err := l.store.CreateRefreshToken(ctx, rec); err != nil {
		return IssuedToken{}, oops.Code("REFRESH_TOKEN_CREATE_FAILED").With("user_id", userID).Wrap(err)
	}
	return IssuedToken{Token: token, ExpiresAt: rec.ExpiresAt}, nil
}

// Validate checks the signature and the stored record of token. Any failure
// is reported as ErrInvalidRefreshToken; storage faults propagate as is.
func (l *RefreshTokenLedger) Validate(ctx context.Context, token string) (*RefreshTokenRecord, error) {
	claims, err := l.codec.Verify(token, RefreshToken)
	if err != nil {
		return nil, invalidRefreshToken("signature")
	}

	rec, err := l.store.FindRefreshToken(ctx, HashToken(token))
	if errors.Is(err, ErrNotFound) {
		return nil, invalidRefreshToken("unknown")
	}
	if err != nil {
		return nil, oops.Code("REFRESH_TOKEN_LOOKUP_FAILED").Wrap(err)
	}
	if rec.UserID != claims.Subject {
		return nil, invalidRefreshToken("subject mismatch")
	}
	if rec.Revoked {
		l.reuseDetected(ctx, rec)
		return nil, invalidRefreshToken("revoked")
	}
	if !l.now().Before(rec.ExpiresAt) {
		return nil, invalidRefreshToken("expired")
	}
	return rec, nil
}

// Rotate revokes old and issues its replacement atomically. If another
// request rotated old first, Rotate fails with ErrInvalidRefreshToken.
func (l *RefreshTokenLedger) Rotate(ctx context.Context, old *RefreshTokenRecord) (IssuedToken, error) {
	token, next, err := l.mint(old.UserID)
	if err != nil {
		return IssuedToken{}, err
	}
	err = l.store.RotateRefreshToken(ctx, old.TokenHash, next, l.now().UTC())
	if errors.Is(err, ErrRecordConsumed) {
		return IssuedToken{}, invalidRefreshToken("concurrent rotation")
	}
	if err != nil {
		return IssuedToken{}, oops.Code("REFRESH_TOKEN_ROTATE_FAILED").
			With("user_id", old.UserID).
			With("record_id", old.ID).
			Wrap(err)
	}
	return IssuedToken{Token: token, ExpiresAt: next.ExpiresAt}, nil
}

// Revoke revokes token if it verifies and is known. Unknown, invalid or
// already revoked tokens are not an error.
func (l *RefreshTokenLedger) Revoke(ctx context.Context, token string) error {
	if _, err := l.codec.Verify(token, RefreshToken); err != nil && !errors.Is(err, ErrTokenExpired) {
		return nil
	}
	if _, err := l.store.RevokeRefreshToken(ctx, HashToken(token), l.now().UTC()); err != nil {
		return oops.Code("REFRESH_TOKEN_REVOKE_FAILED").Wrap(err)
	}
	return nil
}

// RevokeAll revokes every live refresh token of userID.
func (l *RefreshTokenLedger) RevokeAll(ctx context.Context, userID string) (int64, error) {
	n, err := l.store.RevokeUserRefreshTokens(ctx, userID, l.now().UTC())
	if err != nil {
		return 0, oops.Code("REFRESH_TOKEN_REVOKE_ALL_FAILED").With("user_id", userID).Wrap(err)
	}
	return n, nil
}

func (l *RefreshTokenLedger) mint(userID string) (string, *RefreshTokenRecord, error) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: userID}}
	token, exp, err := l.codec.Sign(claims, RefreshToken, RefreshTokenTTL)
	if err != nil {
		return "", nil, err
	}
	rec := &RefreshTokenRecord{
		ID:        ids.New(),
		TokenHash: HashToken(token),
		UserID:    userID,
		ExpiresAt: exp,
		CreatedAt: l.now().UTC(),
	}
	return token, rec, nil
}

func (l *RefreshTokenLedger) reuseDetected(ctx context.Context, rec *RefreshTokenRecord) {
	l.recorder.Outcome(FlowRefresh, OutcomeReuse)
	l.logger.WarnContext(ctx, "revoked refresh token presented",
		"user_id", rec.UserID,
		"record_id", rec.ID,
		"revoke_family", l.revokeOnReuse,
	)
	if !l.revokeOnReuse {
		return
	}
	if _, err := l.RevokeAll(ctx, rec.UserID); err != nil {
		l.logger.ErrorContext(ctx, "revoke refresh tokens after reuse failed",
			"user_id", rec.UserID,
			"error", err,
		)
	}
}
