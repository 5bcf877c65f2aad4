package rbac

import (
	"strings"
	"time"
)

// Resource is the noun a permission applies to. The core resources are listed
// below; the surrounding application may use any other non-empty tag.
type Resource string

// Core resources.
const (
	ResourceUser         Resource = "USER"
	ResourceDepartment   Resource = "DEPARTMENT"
	ResourceRole         Resource = "ROLE"
	ResourcePermission   Resource = "PERMISSION"
	ResourceExpenseClaim Resource = "EXPENSE_CLAIM"
	ResourceFile         Resource = "FILE"
	ResourceAuditLog     Resource = "AUDIT_LOG"
	ResourceReport       Resource = "REPORT"
)

// CoreResources lists the resources seeded into the default catalog.
func CoreResources() []Resource {
	return []Resource{
		ResourceUser,
		ResourceDepartment,
		ResourceRole,
		ResourcePermission,
		ResourceExpenseClaim,
		ResourceFile,
		ResourceAuditLog,
		ResourceReport,
	}
}

// Valid reports whether the resource carries a usable tag.
func (r Resource) Valid() bool {
	return strings.TrimSpace(string(r)) != ""
}

// Action is the verb performed on a resource.
type Action string

// Supported actions. ActionManage acts as a wildcard for its resource.
const (
	ActionCreate  Action = "CREATE"
	ActionRead    Action = "READ"
	ActionUpdate  Action = "UPDATE"
	ActionDelete  Action = "DELETE"
	ActionList    Action = "LIST"
	ActionExport  Action = "EXPORT"
	ActionImport  Action = "IMPORT"
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
	ActionSubmit  Action = "SUBMIT"
	ActionCancel  Action = "CANCEL"
	ActionManage  Action = "MANAGE"
)

// Actions returns the closed action set in declaration order.
func Actions() []Action {
	return []Action{
		ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionList, ActionExport,
		ActionImport, ActionApprove, ActionReject, ActionSubmit, ActionCancel, ActionManage,
	}
}

// Valid reports whether a is one of the supported actions.
func (a Action) Valid() bool {
	for _, known := range Actions() {
		if a == known {
			return true
		}
	}
	return false
}

// Scope is the breadth of a permission.
type Scope string

// Scopes ordered from narrowest to broadest.
const (
	ScopeOwn        Scope = "OWN"
	ScopeDepartment Scope = "DEPARTMENT"
	ScopeAll        Scope = "ALL"
)

// Rank orders scopes: ALL(3) > DEPARTMENT(2) > OWN(1). Unknown scopes rank 0.
func (s Scope) Rank() int {
	switch s {
	case ScopeAll:
		return 3
	case ScopeDepartment:
		return 2
	case ScopeOwn:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s.Rank() > 0
}

// Broader reports whether s strictly outranks other.
func (s Scope) Broader(other Scope) bool {
	return s.Rank() > other.Rank()
}

// Permission identifies a capability in the catalog.
type Permission struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Resource    Resource  `json:"resource"`
	Action      Action    `json:"action"`
	Scope       Scope     `json:"scope"`
	IsActive    bool      `json:"is_active"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Role represents a named bundle of permissions.
type Role struct {
	ID           int64     `json:"id"`
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Level        int       `json:"level"`
	ParentRoleID *int64    `json:"parent_role_id,omitempty"`
	IsActive     bool      `json:"is_active"`
	IsSystem     bool      `json:"is_system"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RolePermission ties a permission to a role.
type RolePermission struct {
	RoleID       int64     `json:"role_id"`
	PermissionID int64     `json:"permission_id"`
	GrantedBy    *int64    `json:"granted_by,omitempty"`
	GrantedAt    time.Time `json:"granted_at"`
}

// Assignment links a user to a role, optionally within one department.
type Assignment struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	RoleID       int64      `json:"role_id"`
	DepartmentID *int64     `json:"department_id,omitempty"`
	AssignedBy   *int64     `json:"assigned_by,omitempty"`
	AssignedAt   time.Time  `json:"assigned_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	IsActive     bool       `json:"is_active"`
}

// IsGlobal reports whether the assignment applies across all departments.
func (a Assignment) IsGlobal() bool {
	return a.DepartmentID == nil
}

// EffectiveAt reports whether the assignment is in force at now.
func (a Assignment) EffectiveAt(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// AssignmentGrant is an effective assignment joined with its role and the
// role's permissions, as returned by the store's gathering query.
type AssignmentGrant struct {
	Assignment  Assignment
	Role        Role
	Permissions []Permission
}

func sameDepartment(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
