package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"studiodesk.app/internal/auth"
)

// CreateRefreshToken inserts rec.
func (s *Store) CreateRefreshToken(ctx context.Context, rec *auth.RefreshTokenRecord) error {
	_, err := s.db.Exec(ctx, insertRefreshToken,
		rec.ID, rec.TokenHash, rec.UserID, rec.ExpiresAt, rec.CreatedAt)
	if err != nil {
		return mapWriteError("REFRESH_TOKEN_CREATE_FAILED", err)
	}
	return nil
}

// FindRefreshToken loads the record stored under tokenHash.
func (s *Store) FindRefreshToken(ctx context.Context, tokenHash string) (*auth.RefreshTokenRecord, error) {
	var rec auth.RefreshTokenRecord
	err := s.db.QueryRow(ctx, `
		SELECT id, token_hash, user_id, expires_at, created_at, revoked, revoked_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(&rec.ID, &rec.TokenHash, &rec.UserID, &rec.ExpiresAt, &rec.CreatedAt, &rec.Revoked, &rec.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("REFRESH_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("REFRESH_TOKEN_LOOKUP_FAILED").Wrap(err)
	}
	return &rec, nil
}

// RevokeRefreshToken flips revoked on tokenHash and reports whether this call
// did the flip.
func (s *Store) RevokeRefreshToken(ctx context.Context, tokenHash string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, revokeRefreshToken, tokenHash, at)
	if err != nil {
		return false, oops.Code("REFRESH_TOKEN_REVOKE_FAILED").Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

// RotateRefreshToken revokes oldHash and inserts next in one transaction.
func (s *Store) RotateRefreshToken(ctx context.Context, oldHash string, next *auth.RefreshTokenRecord, at time.Time) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, revokeRefreshToken, oldHash, at)
		if err != nil {
			return oops.Code("REFRESH_TOKEN_ROTATE_FAILED").With("operation", "revoke old").Wrap(err)
		}
		if tag.RowsAffected() == 0 {
			return oops.Code("REFRESH_TOKEN_CONSUMED").Wrap(auth.ErrRecordConsumed)
		}
		if _, err := tx.Exec(ctx, insertRefreshToken,
			next.ID, next.TokenHash, next.UserID, next.ExpiresAt, next.CreatedAt); err != nil {
			return mapWriteError("REFRESH_TOKEN_ROTATE_FAILED", err)
		}
		return nil
	})
}

// RevokeUserRefreshTokens revokes every live refresh token of userID.
func (s *Store) RevokeUserRefreshTokens(ctx context.Context, userID string, at time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, revokeUserRefreshTokens, userID, at)
	if err != nil {
		return 0, oops.Code("REFRESH_TOKEN_REVOKE_ALL_FAILED").With("user_id", userID).Wrap(err)
	}
	return tag.RowsAffected(), nil
}

const (
	insertRefreshToken = `
		INSERT INTO refresh_tokens (id, token_hash, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	revokeRefreshToken = `
		UPDATE refresh_tokens SET revoked = true, revoked_at = $2
		WHERE token_hash = $1 AND revoked = false`

	revokeUserRefreshTokens = `
		UPDATE refresh_tokens SET revoked = true, revoked_at = $2
		WHERE user_id = $1 AND revoked = false`
)
