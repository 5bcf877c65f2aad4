package pgstore

import (
	"context"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

const roleColumns = `id, code, name, description, level, parent_role_id, is_active, is_system, created_at, updated_at`

func scanRole(row rowScanner) (rbac.Role, error) {
	var r rbac.Role
	err := row.Scan(&r.ID, &r.Code, &r.Name, &r.Description, &r.Level, &r.ParentRoleID,
		&r.IsActive, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// CreateRole inserts a role.
func (s *Store) CreateRole(ctx context.Context, r rbac.Role) (rbac.Role, error) {
	row := s.db.QueryRow(ctx, `INSERT INTO roles (code, name, description, level, parent_role_id, is_active, is_system)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+roleColumns,
		r.Code, r.Name, r.Description, r.Level, r.ParentRoleID, r.IsActive, r.IsSystem)
	created, err := scanRole(row)
	return created, mapError(err)
}

// GetRole loads a role by ID.
func (s *Store) GetRole(ctx context.Context, id int64) (rbac.Role, error) {
	row := s.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	r, err := scanRole(row)
	return r, mapError(err)
}

// GetRoleByCode loads a role by its unique code.
func (s *Store) GetRoleByCode(ctx context.Context, code string) (rbac.Role, error) {
	row := s.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE code = $1`, code)
	r, err := scanRole(row)
	return r, mapError(err)
}

// ListRoles returns every role, highest level first.
func (s *Store) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	rows, err := s.db.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY level DESC, code`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []rbac.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, mapError(rows.Err())
}

// UpdateRole overwrites the mutable fields of a role.
func (s *Store) UpdateRole(ctx context.Context, r rbac.Role) (rbac.Role, error) {
	row := s.db.QueryRow(ctx, `UPDATE roles
SET name = $2, description = $3, level = $4, parent_role_id = $5, is_active = $6, updated_at = NOW()
WHERE id = $1
RETURNING `+roleColumns,
		r.ID, r.Name, r.Description, r.Level, r.ParentRoleID, r.IsActive)
	updated, err := scanRole(row)
	return updated, mapError(err)
}

// DeleteRole removes a role; grants and assignments cascade.
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

// UpsertGrant attaches a permission to a role. Existing grants are left as is.
func (s *Store) UpsertGrant(ctx context.Context, grant rbac.RolePermission) error {
	_, err := s.db.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id, granted_by, granted_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (role_id, permission_id) DO NOTHING`,
		grant.RoleID, grant.PermissionID, grant.GrantedBy, grant.GrantedAt)
	return mapError(err)
}

// DeleteGrant detaches a permission from a role. Missing grants are ignored.
func (s *Store) DeleteGrant(ctx context.Context, roleID, permissionID int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	return mapError(err)
}

// DeleteGrantsForRole detaches every permission from a role.
func (s *Store) DeleteGrantsForRole(ctx context.Context, roleID int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID)
	return mapError(err)
}

// ListRolePermissions returns the permissions granted to a role.
func (s *Store) ListRolePermissions(ctx context.Context, roleID int64) ([]rbac.Permission, error) {
	rows, err := s.db.Query(ctx, `SELECT p.id, p.code, p.name, p.description, p.resource, p.action, p.scope,
       p.is_active, p.is_system, p.created_at, p.updated_at
FROM role_permissions rp
JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role_id = $1
ORDER BY p.code`, roleID)
	if err != nil {
		return nil, mapError(err)
	}
	return collectPermissions(rows)
}
