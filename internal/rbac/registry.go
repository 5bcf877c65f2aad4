package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RoleInput describes a role to create.
type RoleInput struct {
	Code         string `json:"code" validate:"required,max=64"`
	Name         string `json:"name" validate:"required,max=128"`
	Description  string `json:"description" validate:"max=512"`
	Level        int    `json:"level" validate:"gte=0"`
	ParentRoleID *int64 `json:"parent_role_id"`
	IsSystem     bool   `json:"is_system"`
}

// RolePatch carries editable role fields. ClearParent detaches the role from
// its parent; it wins over ParentRoleID.
type RolePatch struct {
	Name         *string `json:"name" validate:"omitempty,min=1,max=128"`
	Description  *string `json:"description" validate:"omitempty,max=512"`
	Level        *int    `json:"level" validate:"omitempty,gte=0"`
	ParentRoleID *int64  `json:"parent_role_id"`
	ClearParent  bool    `json:"clear_parent"`
	IsActive     *bool   `json:"is_active"`
}

// Registry manages roles and the role-to-permission grant set.
//
// ParentRoleID is stored as hierarchy metadata only; evaluation never walks it.
type Registry struct {
	store Store
	hook  changeHook
	now   func() time.Time
}

// NewRegistry constructs a Registry.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// Create inserts a new role.
func (r *Registry) Create(ctx context.Context, in RoleInput) (Role, error) {
	in.Code = normalizeCode(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if err := validateStruct(in); err != nil {
		return Role{}, err
	}
	if _, err := r.store.GetRoleByCode(ctx, in.Code); err == nil {
		return Role{}, fmt.Errorf("%w: %s", ErrDuplicateCode, in.Code)
	} else if !errors.Is(err, ErrNotFound) {
		return Role{}, err
	}
	if in.ParentRoleID != nil {
		if _, err := r.store.GetRole(ctx, *in.ParentRoleID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return Role{}, fmt.Errorf("%w: %d", ErrParentNotFound, *in.ParentRoleID)
			}
			return Role{}, err
		}
	}
	created, err := r.store.CreateRole(ctx, Role{
		Code:         in.Code,
		Name:         in.Name,
		Description:  strings.TrimSpace(in.Description),
		Level:        in.Level,
		ParentRoleID: in.ParentRoleID,
		IsActive:     true,
		IsSystem:     in.IsSystem,
	})
	if err != nil {
		return Role{}, err
	}
	r.hook.changed(ctx, "role.create")
	return created, nil
}

// Get fetches a role by ID.
func (r *Registry) Get(ctx context.Context, id int64) (Role, error) {
	return r.store.GetRole(ctx, id)
}

// GetByCode fetches a role by code.
func (r *Registry) GetByCode(ctx context.Context, code string) (Role, error) {
	return r.store.GetRoleByCode(ctx, normalizeCode(code))
}

// List returns all roles.
func (r *Registry) List(ctx context.Context) ([]Role, error) {
	return r.store.ListRoles(ctx)
}

// Update edits a role. System roles cannot be deactivated; a role may not
// become its own ancestor.
func (r *Registry) Update(ctx context.Context, id int64, patch RolePatch) (Role, error) {
	if err := validateStruct(patch); err != nil {
		return Role{}, err
	}
	current, err := r.store.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if patch.IsActive != nil && !*patch.IsActive && current.IsSystem {
		return Role{}, fmt.Errorf("%w: role %s", ErrSystemProtected, current.Code)
	}
	switch {
	case patch.ClearParent:
		current.ParentRoleID = nil
	case patch.ParentRoleID != nil:
		if err := r.checkParent(ctx, id, *patch.ParentRoleID); err != nil {
			return Role{}, err
		}
		parent := *patch.ParentRoleID
		current.ParentRoleID = &parent
	}
	if patch.Name != nil {
		current.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		current.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Level != nil {
		current.Level = *patch.Level
	}
	if patch.IsActive != nil {
		current.IsActive = *patch.IsActive
	}
	updated, err := r.store.UpdateRole(ctx, current)
	if err != nil {
		return Role{}, err
	}
	r.hook.changed(ctx, "role.update")
	return updated, nil
}

func (r *Registry) checkParent(ctx context.Context, id, parentID int64) error {
	if parentID == id {
		return fmt.Errorf("%w: role %d cannot be its own parent", ErrInvalidParent, id)
	}
	seen := map[int64]struct{}{id: {}}
	next := &parentID
	for next != nil {
		if _, loop := seen[*next]; loop {
			return fmt.Errorf("%w: parent %d would create a cycle", ErrInvalidParent, parentID)
		}
		seen[*next] = struct{}{}
		ancestor, err := r.store.GetRole(ctx, *next)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: parent %d does not exist", ErrInvalidParent, *next)
			}
			return err
		}
		next = ancestor.ParentRoleID
	}
	return nil
}

// Deactivate soft-disables a role.
func (r *Registry) Deactivate(ctx context.Context, id int64) (Role, error) {
	inactive := false
	return r.Update(ctx, id, RolePatch{IsActive: &inactive})
}

// Delete removes a non-system role, its grants and its assignments.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	current, err := r.store.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if current.IsSystem {
		return fmt.Errorf("%w: role %s", ErrSystemProtected, current.Code)
	}
	if err := r.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	r.hook.changed(ctx, "role.delete")
	return nil
}

// GrantPermission attaches a permission to a role. Granting an existing
// grant is a no-op.
func (r *Registry) GrantPermission(ctx context.Context, roleID, permissionID int64, grantedBy *int64) error {
	if _, err := r.store.GetRole(ctx, roleID); err != nil {
		return err
	}
	if _, err := r.store.GetPermission(ctx, permissionID); err != nil {
		return err
	}
	if err := r.store.UpsertGrant(ctx, RolePermission{
		RoleID:       roleID,
		PermissionID: permissionID,
		GrantedBy:    grantedBy,
		GrantedAt:    r.now(),
	}); err != nil {
		return err
	}
	r.hook.changed(ctx, "role.grant")
	return nil
}

// RevokePermission detaches a permission from a role. Missing grants are ignored.
func (r *Registry) RevokePermission(ctx context.Context, roleID, permissionID int64) error {
	if err := r.store.DeleteGrant(ctx, roleID, permissionID); err != nil {
		return err
	}
	r.hook.changed(ctx, "role.revoke")
	return nil
}

// SetPermissions replaces the role's whole grant set in one transaction.
func (r *Registry) SetPermissions(ctx context.Context, roleID int64, permissionIDs []int64, grantedBy *int64) error {
	unique := make([]int64, 0, len(permissionIDs))
	seen := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	grantedAt := r.now()
	err := r.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		if _, err := tx.GetRole(ctx, roleID); err != nil {
			return err
		}
		for _, id := range unique {
			if _, err := tx.GetPermission(ctx, id); err != nil {
				return fmt.Errorf("permission %d: %w", id, err)
			}
		}
		if err := tx.DeleteGrantsForRole(ctx, roleID); err != nil {
			return err
		}
		for _, id := range unique {
			if err := tx.UpsertGrant(ctx, RolePermission{
				RoleID:       roleID,
				PermissionID: id,
				GrantedBy:    grantedBy,
				GrantedAt:    grantedAt,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.hook.changed(ctx, "role.set_permissions")
	return nil
}

// Permissions lists the permissions granted to a role.
func (r *Registry) Permissions(ctx context.Context, roleID int64) ([]Permission, error) {
	if _, err := r.store.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return r.store.ListRolePermissions(ctx, roleID)
}
