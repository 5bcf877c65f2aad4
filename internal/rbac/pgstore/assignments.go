package pgstore

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

const assignmentColumns = `id, user_id, role_id, department_id, assigned_by, assigned_at, expires_at, is_active`

func scanAssignment(row rowScanner) (rbac.Assignment, error) {
	var a rbac.Assignment
	err := row.Scan(&a.ID, &a.UserID, &a.RoleID, &a.DepartmentID, &a.AssignedBy, &a.AssignedAt, &a.ExpiresAt, &a.IsActive)
	return a, err
}

// UpsertAssignment inserts or reactivates the (user, role, department) row.
func (s *Store) UpsertAssignment(ctx context.Context, a rbac.Assignment) (rbac.Assignment, error) {
	row := s.db.QueryRow(ctx, `INSERT INTO user_role_assignments (user_id, role_id, department_id, assigned_by, assigned_at, expires_at, is_active)
VALUES ($1, $2, $3, $4, $5, $6, TRUE)
ON CONFLICT (user_id, role_id, COALESCE(department_id, 0)) DO UPDATE
SET assigned_by = EXCLUDED.assigned_by,
    assigned_at = EXCLUDED.assigned_at,
    expires_at = EXCLUDED.expires_at,
    is_active = TRUE
RETURNING `+assignmentColumns,
		a.UserID, a.RoleID, a.DepartmentID, a.AssignedBy, a.AssignedAt, a.ExpiresAt)
	out, err := scanAssignment(row)
	return out, mapError(err)
}

// DeactivateAssignments turns off the matching active row.
func (s *Store) DeactivateAssignments(ctx context.Context, userID, roleID int64, departmentID *int64) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE user_role_assignments
SET is_active = FALSE
WHERE user_id = $1 AND role_id = $2
  AND department_id IS NOT DISTINCT FROM $3
  AND is_active`, userID, roleID, departmentID)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

// ListAssignments returns every assignment row of a user, active or not.
func (s *Store) ListAssignments(ctx context.Context, userID int64) ([]rbac.Assignment, error) {
	rows, err := s.db.Query(ctx, `SELECT `+assignmentColumns+` FROM user_role_assignments
WHERE user_id = $1
ORDER BY assigned_at, id`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []rbac.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, mapError(rows.Err())
}

// DeactivateExpired turns off active rows whose expiry is at or before now.
func (s *Store) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE user_role_assignments
SET is_active = FALSE
WHERE is_active AND expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

// ListEffectiveGrants joins a user's effective assignments with their roles
// and active permissions in one round trip. Role activity is left to the
// caller.
func (s *Store) ListEffectiveGrants(ctx context.Context, userID int64, departmentID *int64, now time.Time) ([]rbac.AssignmentGrant, error) {
	rows, err := s.db.Query(ctx, `SELECT a.id, a.user_id, a.role_id, a.department_id, a.assigned_by, a.assigned_at, a.expires_at, a.is_active,
       r.id, r.code, r.name, r.description, r.level, r.parent_role_id, r.is_active, r.is_system, r.created_at, r.updated_at,
       p.id, p.code, p.name, p.description, p.resource, p.action, p.scope, p.is_active, p.is_system, p.created_at, p.updated_at
FROM user_role_assignments a
JOIN roles r ON r.id = a.role_id
LEFT JOIN role_permissions rp ON rp.role_id = r.id
LEFT JOIN permissions p ON p.id = rp.permission_id AND p.is_active
WHERE a.user_id = $1
  AND a.is_active
  AND (a.expires_at IS NULL OR a.expires_at > $2)
  AND ($3::bigint IS NULL OR a.department_id IS NULL OR a.department_id = $3)
ORDER BY a.id, p.id`, userID, now, departmentID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var (
		out   []rbac.AssignmentGrant
		index = make(map[int64]int)
	)
	for rows.Next() {
		var (
			a rbac.Assignment
			r rbac.Role
			p nullablePermission
		)
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.RoleID, &a.DepartmentID, &a.AssignedBy, &a.AssignedAt, &a.ExpiresAt, &a.IsActive,
			&r.ID, &r.Code, &r.Name, &r.Description, &r.Level, &r.ParentRoleID, &r.IsActive, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt,
			&p.ID, &p.Code, &p.Name, &p.Description, &p.Resource, &p.Action, &p.Scope, &p.IsActive, &p.IsSystem, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		pos, seen := index[a.ID]
		if !seen {
			pos = len(out)
			index[a.ID] = pos
			out = append(out, rbac.AssignmentGrant{Assignment: a, Role: r})
		}
		if perm, ok := p.permission(); ok {
			out[pos].Permissions = append(out[pos].Permissions, perm)
		}
	}
	return out, mapError(rows.Err())
}

// nullablePermission receives the LEFT JOINed permission columns.
type nullablePermission struct {
	ID          *int64
	Code        *string
	Name        *string
	Description *string
	Resource    *string
	Action      *string
	Scope       *string
	IsActive    *bool
	IsSystem    *bool
	CreatedAt   *time.Time
	UpdatedAt   *time.Time
}

func (n nullablePermission) permission() (rbac.Permission, bool) {
	if n.ID == nil {
		return rbac.Permission{}, false
	}
	return rbac.Permission{
		ID:          *n.ID,
		Code:        deref(n.Code),
		Name:        deref(n.Name),
		Description: deref(n.Description),
		Resource:    rbac.Resource(deref(n.Resource)),
		Action:      rbac.Action(deref(n.Action)),
		Scope:       rbac.Scope(deref(n.Scope)),
		IsActive:    n.IsActive != nil && *n.IsActive,
		IsSystem:    n.IsSystem != nil && *n.IsSystem,
		CreatedAt:   derefTime(n.CreatedAt),
		UpdatedAt:   derefTime(n.UpdatedAt),
	}, true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
