package rbac

import (
	"context"
	"time"
)

// PermissionFilter narrows catalog listings.
type PermissionFilter struct {
	Resource   Resource
	ActiveOnly bool
}

// PermissionRepository persists catalog entries.
type PermissionRepository interface {
	CreatePermission(ctx context.Context, p Permission) (Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	GetPermissionByCode(ctx context.Context, code string) (Permission, error)
	ListPermissions(ctx context.Context, filter PermissionFilter) ([]Permission, error)
	UpdatePermission(ctx context.Context, p Permission) (Permission, error)
	DeletePermission(ctx context.Context, id int64) error
}

// RoleRepository persists roles and their grants. DeleteRole must cascade to
// grants and assignments.
type RoleRepository interface {
	CreateRole(ctx context.Context, r Role) (Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByCode(ctx context.Context, code string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpdateRole(ctx context.Context, r Role) (Role, error)
	DeleteRole(ctx context.Context, id int64) error

	UpsertGrant(ctx context.Context, grant RolePermission) error
	DeleteGrant(ctx context.Context, roleID, permissionID int64) error
	DeleteGrantsForRole(ctx context.Context, roleID int64) error
	ListRolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
}

// AssignmentRepository persists user role assignments.
type AssignmentRepository interface {
	// UpsertAssignment inserts the row or, when one exists for the same
	// (user, role, department) key, reactivates it and overwrites
	// AssignedAt, ExpiresAt and AssignedBy.
	UpsertAssignment(ctx context.Context, a Assignment) (Assignment, error)
	// DeactivateAssignments flips is_active off for every matching row.
	DeactivateAssignments(ctx context.Context, userID, roleID int64, departmentID *int64) (int64, error)
	ListAssignments(ctx context.Context, userID int64) ([]Assignment, error)
	// DeactivateExpired flips is_active off for rows whose expiry passed.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// GrantSource yields the effective assignments of a user joined with their
// roles and permissions. A nil departmentID returns every effective row;
// otherwise rows scoped to that department plus global rows.
type GrantSource interface {
	ListEffectiveGrants(ctx context.Context, userID int64, departmentID *int64, now time.Time) ([]AssignmentGrant, error)
}

// Store aggregates every persistence port used by the core.
type Store interface {
	PermissionRepository
	RoleRepository
	AssignmentRepository
	GrantSource

	// WithTx runs fn inside a single transaction. Writes made through the
	// Store passed to fn become visible together or not at all.
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
}

// Directory answers existence questions about entities owned outside the core.
type Directory interface {
	UserExists(ctx context.Context, id int64) (bool, error)
	DepartmentExists(ctx context.Context, id int64) (bool, error)
}

// Invalidator is notified after authorization data changes.
type Invalidator interface {
	Bump(ctx context.Context) error
}
