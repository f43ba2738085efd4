package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"studiodesk.app/internal/auth"
)

// CreatePasswordReset inserts rec.
func (s *Store) CreatePasswordReset(ctx context.Context, rec *auth.PasswordResetRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO password_reset_tokens (id, token_hash, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, rec.TokenHash, rec.UserID, rec.ExpiresAt, rec.CreatedAt)
	if err != nil {
		return mapWriteError("RESET_TOKEN_CREATE_FAILED", err)
	}
	return nil
}

// FindPasswordReset loads the record stored under tokenHash.
func (s *Store) FindPasswordReset(ctx context.Context, tokenHash string) (*auth.PasswordResetRecord, error) {
	var rec auth.PasswordResetRecord
	err := s.db.QueryRow(ctx, `
		SELECT id, token_hash, user_id, expires_at, created_at, used, used_at
		FROM password_reset_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(&rec.ID, &rec.TokenHash, &rec.UserID, &rec.ExpiresAt, &rec.CreatedAt, &rec.Used, &rec.UsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_TOKEN_LOOKUP_FAILED").Wrap(err)
	}
	return &rec, nil
}

// ConsumePasswordReset marks the token used, stores the new password hash and
// revokes the user's refresh tokens in one transaction.
func (s *Store) ConsumePasswordReset(ctx context.Context, tokenHash, passwordHash string, at time.Time) (string, error) {
	var userID string
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE password_reset_tokens SET used = true, used_at = $2
			WHERE token_hash = $1 AND used = false AND expires_at > $2
			RETURNING user_id
		`, tokenHash, at).Scan(&userID)
		if errors.Is(err, pgx.ErrNoRows) {
			return oops.Code("RESET_TOKEN_CONSUMED").Wrap(auth.ErrRecordConsumed)
		}
		if err != nil {
			return oops.Code("RESET_TOKEN_CONSUME_FAILED").With("operation", "mark used").Wrap(err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE users SET password_hash = $2, updated_at = $3
			WHERE id = $1
		`, userID, passwordHash, at)
		if err != nil {
			return oops.Code("RESET_TOKEN_CONSUME_FAILED").With("operation", "update password").With("user_id", userID).Wrap(err)
		}
		if tag.RowsAffected() == 0 {
			return oops.Code("USER_NOT_FOUND").With("user_id", userID).Wrap(auth.ErrNotFound)
		}

		if _, err := tx.Exec(ctx, revokeUserRefreshTokens, userID, at); err != nil {
			return oops.Code("RESET_TOKEN_CONSUME_FAILED").With("operation", "revoke sessions").With("user_id", userID).Wrap(err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return userID, nil
}
