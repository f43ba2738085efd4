package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	UserDirectory
	PasswordUpdater
	Catalog
	RefreshTokenStore
	PasswordResetStore
}

// UserDirectory is the read-only view of users and their role graph.
// Lookups of unknown users fail with an error wrapping ErrNotFound.
type UserDirectory interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id string) (*User, error)
	RolesForUser(ctx context.Context, userID string) ([]Role, error)
	// RolePermissionRows returns one (roleId, resource, action) row per
	// permission granted to each of the user's roles.
	RolePermissionRows(ctx context.Context, userID string) ([]RolePermissionRow, error)
}

// PasswordUpdater stores a replacement hash for an existing user.
type PasswordUpdater interface {
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
}

// Catalog lists the RBAC reference data.
type Catalog interface {
	ListRoles(ctx context.Context) ([]Role, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	ListRolePermissions(ctx context.Context) ([]RolePermissionRow, error)
}

// RefreshTokenStore manages refresh token records.
type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, rec *RefreshTokenRecord) error
	FindRefreshToken(ctx context.Context, tokenHash string) (*RefreshTokenRecord, error)
	// RevokeRefreshToken flips revoked false→true and reports whether this
	// call performed the flip.
	RevokeRefreshToken(ctx context.Context, tokenHash string, at time.Time) (bool, error)
	// RotateRefreshToken revokes oldHash and inserts next in one transaction.
	// It fails with ErrRecordConsumed when oldHash was already revoked.
	RotateRefreshToken(ctx context.Context, oldHash string, next *RefreshTokenRecord, at time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, userID string, at time.Time) (int64, error)
}

// PasswordResetStore manages password reset records.
type PasswordResetStore interface {
	CreatePasswordReset(ctx context.Context, rec *PasswordResetRecord) error
	FindPasswordReset(ctx context.Context, tokenHash string) (*PasswordResetRecord, error)
	// ConsumePasswordReset marks the record used, stores passwordHash on its
	// user and revokes the user's refresh tokens in one transaction. It fails
	// with ErrRecordConsumed when the record is used or expired at at.
	ConsumePasswordReset(ctx context.Context, tokenHash, passwordHash string, at time.Time) (userID string, err error)
}
