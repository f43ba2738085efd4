package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"studiodesk.app/internal/auth"
)

const userColumns = `id, email, password_hash, is_active, created_at, updated_at`

// FindUserByEmail looks a user up by normalized email.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, auth.NormalizeEmail(email))

	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_LOOKUP_FAILED").With("operation", "find user by email").Wrap(err)
	}
	return u, nil
}

// FindUserByID looks a user up by id.
func (s *Store) FindUserByID(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id)

	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_LOOKUP_FAILED").With("operation", "find user by id").With("user_id", id).Wrap(err)
	}
	return u, nil
}

// RolesForUser lists the roles assigned to userID ordered by name.
func (s *Store) RolesForUser(ctx context.Context, userID string) ([]auth.Role, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.id, r.name, r.description
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`, userID)
	if err != nil {
		return nil, oops.Code("USER_ROLES_FAILED").With("user_id", userID).Wrap(err)
	}
	defer rows.Close()

	roles := make([]auth.Role, 0, 2)
	for rows.Next() {
		var r auth.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description); err != nil {
			return nil, oops.Code("USER_ROLES_FAILED").With("operation", "scan role").Wrap(err)
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("USER_ROLES_FAILED").With("operation", "iterate roles").Wrap(err)
	}
	return roles, nil
}

// RolePermissionRows returns one row per permission granted through each of
// the user's roles.
func (s *Store) RolePermissionRows(ctx context.Context, userID string) ([]auth.RolePermissionRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ur.role_id, p.resource, p.action
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
	`, userID)
	if err != nil {
		return nil, oops.Code("USER_PERMISSIONS_FAILED").With("user_id", userID).Wrap(err)
	}
	return collectRolePermissionRows(rows)
}

// UpdatePasswordHash replaces the stored hash of userID.
func (s *Store) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = now()
		WHERE id = $1
	`, userID, passwordHash)
	if err != nil {
		return oops.Code("USER_PASSWORD_UPDATE_FAILED").With("user_id", userID).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("user_id", userID).Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var u auth.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func collectRolePermissionRows(rows pgx.Rows) ([]auth.RolePermissionRow, error) {
	defer rows.Close()
	var out []auth.RolePermissionRow
	for rows.Next() {
		var r auth.RolePermissionRow
		if err := rows.Scan(&r.RoleID, &r.Resource, &r.Action); err != nil {
			return nil, oops.Code("ROLE_PERMISSIONS_SCAN_FAILED").Wrap(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ROLE_PERMISSIONS_SCAN_FAILED").Wrap(err)
	}
	return out, nil
}
