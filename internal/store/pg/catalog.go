package pg

import (
	"context"

	"github.com/samber/oops"

	"studiodesk.app/internal/auth"
)

// ListRoles returns every role ordered by name.
func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, description FROM roles ORDER BY name`)
	if err != nil {
		return nil, oops.Code("ROLES_LIST_FAILED").Wrap(err)
	}
	defer rows.Close()

	var out []auth.Role
	for rows.Next() {
		var r auth.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description); err != nil {
			return nil, oops.Code("ROLES_LIST_FAILED").With("operation", "scan role").Wrap(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ROLES_LIST_FAILED").Wrap(err)
	}
	return out, nil
}

// ListPermissions returns the permission catalog ordered by key.
func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, resource, action, description
		FROM permissions
		ORDER BY resource, action
	`)
	if err != nil {
		return nil, oops.Code("PERMISSIONS_LIST_FAILED").Wrap(err)
	}
	defer rows.Close()

	var out []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Resource, &p.Action, &p.Description); err != nil {
			return nil, oops.Code("PERMISSIONS_LIST_FAILED").With("operation", "scan permission").Wrap(err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("PERMISSIONS_LIST_FAILED").Wrap(err)
	}
	return out, nil
}

// ListRolePermissions returns every grant as a flat row.
func (s *Store) ListRolePermissions(ctx context.Context) ([]auth.RolePermissionRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT rp.role_id, p.resource, p.action
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		ORDER BY rp.role_id, p.resource, p.action
	`)
	if err != nil {
		return nil, oops.Code("ROLE_PERMISSIONS_LIST_FAILED").Wrap(err)
	}
	return collectRolePermissionRows(rows)
}
