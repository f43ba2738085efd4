package auth

import (
	"strings"
	"time"
)

// User is an account able to sign in to the back office.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Role groups permissions.
type Role struct {
	ID          string
	Name        string
	Description string
}

// Permission is a fine-grained capability on a resource.
type Permission struct {
	ID          string
	Resource    string
	Action      string
	Description string
}

// Key returns the canonical "resource:action" form.
func (p Permission) Key() string {
	return FormatPermission(p.Resource, p.Action)
}

// RoleAssignment gives a user a role.
type RoleAssignment struct {
	UserID    string
	RoleID    string
	CreatedAt time.Time
}

// RolePermission links roles to permissions.
type RolePermission struct {
	RoleID       string
	PermissionID string
}

// RolePermissionRow is one (role, resource, action) tuple granted to a user.
type RolePermissionRow struct {
	RoleID   string
	Resource string
	Action   string
}

// RefreshTokenRecord is the persisted side of an issued refresh token.
// TokenHash is the SHA-256 hex digest of the signed token.
type RefreshTokenRecord struct {
	ID        string
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
	RevokedAt *time.Time
}

// PasswordResetRecord is the persisted side of an issued reset token.
type PasswordResetRecord struct {
	ID        string
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
	Used      bool
	UsedAt    *time.Time
}

// UserView is the externally visible snapshot of a signed-in user.
type UserView struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// FormatPermission joins resource and action into "resource:action".
func FormatPermission(resource, action string) string {
	return resource + ":" + action
}

// ParsePermission splits a "resource:action" key.
func ParsePermission(key string) (resource, action string, ok bool) {
	resource, action, ok = strings.Cut(strings.TrimSpace(key), ":")
	if !ok || resource == "" || action == "" {
		return "", "", false
	}
	return resource, action, true
}

// NormalizeEmail trims and lower-cases an email address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func roleNames(roles []Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, r.Name)
	}
	return out
}
