package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

const permissionColumns = `id, code, name, description, resource, action, scope, is_active, is_system, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPermission(row rowScanner) (rbac.Permission, error) {
	var p rbac.Permission
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.Resource, &p.Action, &p.Scope,
		&p.IsActive, &p.IsSystem, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// CreatePermission inserts a catalog entry.
func (s *Store) CreatePermission(ctx context.Context, p rbac.Permission) (rbac.Permission, error) {
	row := s.db.QueryRow(ctx, `INSERT INTO permissions (code, name, description, resource, action, scope, is_active, is_system)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+permissionColumns,
		p.Code, p.Name, p.Description, p.Resource, p.Action, p.Scope, p.IsActive, p.IsSystem)
	created, err := scanPermission(row)
	return created, mapError(err)
}

// GetPermission loads a permission by ID.
func (s *Store) GetPermission(ctx context.Context, id int64) (rbac.Permission, error) {
	row := s.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id)
	p, err := scanPermission(row)
	return p, mapError(err)
}

// GetPermissionByCode loads a permission by its unique code.
func (s *Store) GetPermissionByCode(ctx context.Context, code string) (rbac.Permission, error) {
	row := s.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE code = $1`, code)
	p, err := scanPermission(row)
	return p, mapError(err)
}

// ListPermissions returns catalog entries ordered by code.
func (s *Store) ListPermissions(ctx context.Context, filter rbac.PermissionFilter) ([]rbac.Permission, error) {
	var resource *string
	if filter.Resource != "" {
		r := string(filter.Resource)
		resource = &r
	}
	rows, err := s.db.Query(ctx, `SELECT `+permissionColumns+` FROM permissions
WHERE ($1::text IS NULL OR resource = $1)
  AND (NOT $2 OR is_active)
ORDER BY code`, resource, filter.ActiveOnly)
	if err != nil {
		return nil, mapError(err)
	}
	return collectPermissions(rows)
}

// UpdatePermission overwrites the mutable fields of a permission.
func (s *Store) UpdatePermission(ctx context.Context, p rbac.Permission) (rbac.Permission, error) {
	row := s.db.QueryRow(ctx, `UPDATE permissions
SET name = $2, description = $3, scope = $4, is_active = $5, updated_at = NOW()
WHERE id = $1
RETURNING `+permissionColumns,
		p.ID, p.Name, p.Description, p.Scope, p.IsActive)
	updated, err := scanPermission(row)
	return updated, mapError(err)
}

// DeletePermission removes a permission; grants cascade.
func (s *Store) DeletePermission(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func collectPermissions(rows pgx.Rows) ([]rbac.Permission, error) {
	defer rows.Close()
	var out []rbac.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, mapError(rows.Err())
}
