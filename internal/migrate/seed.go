package migrate

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"studiodesk.app/internal/auth"
	"studiodesk.app/internal/ids"
)

const (
	insertRole = `
		INSERT INTO roles (id, name, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING`
	insertPermission = `
		INSERT INTO permissions (id, resource, action, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (resource, action) DO NOTHING`
	insertGrant = `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT r.id, p.id FROM roles r, permissions p
		WHERE r.name = $1 AND p.resource = $2 AND p.action = $3
		ON CONFLICT DO NOTHING`
	insertAdmin = `
		INSERT INTO users (id, email, password_hash, is_active)
		VALUES ($1, $2, $3, true)
		ON CONFLICT (email) DO NOTHING`
	assignRole = `
		INSERT INTO user_roles (user_id, role_id)
		SELECT u.id, r.id FROM users u, roles r
		WHERE u.email = $1 AND r.name = $2
		ON CONFLICT DO NOTHING`
)

// Admin describes the bootstrap SUPER_ADMIN account.
type Admin struct {
	Email    string
	Password string
}

// SeedResult counts rows created by a Seed run. A second run over the same
// database reports zeros.
type SeedResult struct {
	Roles        int64
	Permissions  int64
	Grants       int64
	AdminCreated bool
}

// Seeder writes the built-in catalog.
type Seeder struct {
	db     *sql.DB
	hasher auth.PasswordHasher
	logger *slog.Logger
}

// NewSeeder creates a Seeder. logger may be nil.
func NewSeeder(db *sql.DB, hasher auth.PasswordHasher, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{db: db, hasher: hasher, logger: logger}
}

// Seed inserts missing roles, permissions and default grants in one
// transaction. When admin is non-nil the account is created with the
// SUPER_ADMIN role; an existing account keeps its password.
func (s *Seeder) Seed(ctx context.Context, admin *Admin) (SeedResult, error) {
	var res SeedResult

	var adminEmail, adminHash string
	if admin != nil {
		adminEmail = auth.NormalizeEmail(admin.Email)
		if adminEmail == "" {
			return res, oops.Code("SEED_ADMIN_INVALID").Errorf("admin email is required")
		}
		if err := auth.ValidatePassword(admin.Password); err != nil {
			return res, oops.Code("SEED_ADMIN_INVALID").Wrap(err)
		}
		hash, err := s.hasher.Hash(admin.Password)
		if err != nil {
			return res, oops.Code("SEED_ADMIN_INVALID").Wrap(err)
		}
		adminHash = hash
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, oops.Code("SEED_BEGIN_FAILED").Wrap(err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.WarnContext(ctx, "seed rollback failed", "error", rbErr)
		}
	}()

	for _, role := range auth.BuiltinRoles {
		n, err := execCount(ctx, tx, insertRole, ids.New(), role.Name, role.Description)
		if err != nil {
			return res, oops.Code("SEED_ROLE_FAILED").With("role", role.Name).Wrap(err)
		}
		res.Roles += n
	}

	for _, perm := range auth.BuiltinPermissions {
		n, err := execCount(ctx, tx, insertPermission, ids.New(), perm.Resource, perm.Action, perm.Description)
		if err != nil {
			return res, oops.Code("SEED_PERMISSION_FAILED").With("permission", perm.Key()).Wrap(err)
		}
		res.Permissions += n
	}

	for _, role := range auth.BuiltinRoles {
		for _, key := range auth.DefaultGrants[role.Name] {
			resource, action, ok := auth.ParsePermission(key)
			if !ok {
				return res, oops.Code("SEED_GRANT_FAILED").With("permission", key).Errorf("malformed permission key")
			}
			n, err := execCount(ctx, tx, insertGrant, role.Name, resource, action)
			if err != nil {
				return res, oops.Code("SEED_GRANT_FAILED").With("role", role.Name).With("permission", key).Wrap(err)
			}
			res.Grants += n
		}
	}

	if admin != nil {
		n, err := execCount(ctx, tx, insertAdmin, ids.New(), adminEmail, adminHash)
		if err != nil {
			return res, oops.Code("SEED_ADMIN_FAILED").Wrap(err)
		}
		res.AdminCreated = n > 0
		if _, err := tx.ExecContext(ctx, assignRole, adminEmail, auth.RoleSuperAdmin); err != nil {
			return res, oops.Code("SEED_ADMIN_FAILED").Wrap(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return SeedResult{}, oops.Code("SEED_COMMIT_FAILED").Wrap(err)
	}

	s.logger.InfoContext(ctx, "seed applied",
		"roles", res.Roles,
		"permissions", res.Permissions,
		"grants", res.Grants,
		"admin_created", res.AdminCreated,
	)
	return res, nil
}

func execCount(ctx context.Context, tx *sql.Tx, query string, args ...any) (int64, error) {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}
