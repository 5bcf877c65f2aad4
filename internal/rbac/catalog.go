package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// PermissionInput describes a catalog entry to create. Code defaults to
// PermissionCode(Resource, Action) when empty.
type PermissionInput struct {
	Code        string   `json:"code" validate:"max=128"`
	Name        string   `json:"name" validate:"required,max=128"`
	Description string   `json:"description" validate:"max=512"`
	Resource    Resource `json:"resource" validate:"required,max=64"`
	Action      Action   `json:"action" validate:"required"`
	Scope       Scope    `json:"scope" validate:"required"`
	IsSystem    bool     `json:"is_system"`
}

// PermissionPatch carries the editable fields of a permission. Nil fields
// are left untouched.
type PermissionPatch struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=128"`
	Description *string `json:"description" validate:"omitempty,max=512"`
	Scope       *Scope  `json:"scope"`
	IsActive    *bool   `json:"is_active"`
}

// Catalog manages permission definitions.
type Catalog struct {
	repo PermissionRepository
	hook changeHook
}

// NewCatalog constructs a Catalog.
func NewCatalog(repo PermissionRepository) *Catalog {
	return &Catalog{repo: repo}
}

// Create inserts a new permission.
func (c *Catalog) Create(ctx context.Context, in PermissionInput) (Permission, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Resource = normalizeResource(in.Resource)
	in.Action = normalizeAction(in.Action)
	in.Scope = Scope(strings.ToUpper(strings.TrimSpace(string(in.Scope))))
	if err := validateStruct(in); err != nil {
		return Permission{}, err
	}
	if !in.Action.Valid() {
		return Permission{}, fmt.Errorf("%w: unknown action %q", ErrValidation, in.Action)
	}
	if !in.Scope.Valid() {
		return Permission{}, fmt.Errorf("%w: unknown scope %q", ErrValidation, in.Scope)
	}
	code := normalizeCode(in.Code)
	if code == "" {
		code = PermissionCode(in.Resource, in.Action)
	}
	if _, err := c.repo.GetPermissionByCode(ctx, code); err == nil {
		return Permission{}, fmt.Errorf("%w: %s", ErrDuplicateCode, code)
	} else if !errors.Is(err, ErrNotFound) {
		return Permission{}, err
	}
	created, err := c.repo.CreatePermission(ctx, Permission{
		Code:        code,
		Name:        in.Name,
		Description: strings.TrimSpace(in.Description),
		Resource:    in.Resource,
		Action:      in.Action,
		Scope:       in.Scope,
		IsActive:    true,
		IsSystem:    in.IsSystem,
	})
	if err != nil {
		return Permission{}, err
	}
	c.hook.changed(ctx, "permission.create")
	return created, nil
}

// Get fetches a permission by ID.
func (c *Catalog) Get(ctx context.Context, id int64) (Permission, error) {
	return c.repo.GetPermission(ctx, id)
}

// GetByCode fetches a permission by its unique code.
func (c *Catalog) GetByCode(ctx context.Context, code string) (Permission, error) {
	return c.repo.GetPermissionByCode(ctx, normalizeCode(code))
}

// List returns catalog entries matching filter.
func (c *Catalog) List(ctx context.Context, filter PermissionFilter) ([]Permission, error) {
	return c.repo.ListPermissions(ctx, filter)
}

// ListByResource returns the active permissions of one resource.
func (c *Catalog) ListByResource(ctx context.Context, resource Resource) ([]Permission, error) {
	if !resource.Valid() {
		return nil, fmt.Errorf("%w: resource required", ErrValidation)
	}
	return c.repo.ListPermissions(ctx, PermissionFilter{Resource: resource, ActiveOnly: true})
}

// Update edits name, description, scope and the active flag. System
// permissions cannot be deactivated.
func (c *Catalog) Update(ctx context.Context, id int64, patch PermissionPatch) (Permission, error) {
	if err := validateStruct(patch); err != nil {
		return Permission{}, err
	}
	current, err := c.repo.GetPermission(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	if patch.IsActive != nil && !*patch.IsActive && current.IsSystem {
		return Permission{}, fmt.Errorf("%w: permission %s", ErrSystemProtected, current.Code)
	}
	if patch.Name != nil {
		current.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		current.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Scope != nil {
		scope := Scope(strings.ToUpper(string(*patch.Scope)))
		if !scope.Valid() {
			return Permission{}, fmt.Errorf("%w: unknown scope %q", ErrValidation, *patch.Scope)
		}
		current.Scope = scope
	}
	if patch.IsActive != nil {
		current.IsActive = *patch.IsActive
	}
	updated, err := c.repo.UpdatePermission(ctx, current)
	if err != nil {
		return Permission{}, err
	}
	c.hook.changed(ctx, "permission.update")
	return updated, nil
}

// Deactivate soft-disables a permission.
func (c *Catalog) Deactivate(ctx context.Context, id int64) (Permission, error) {
	inactive := false
	return c.Update(ctx, id, PermissionPatch{IsActive: &inactive})
}

// Delete hard-removes a non-system permission together with its grants.
func (c *Catalog) Delete(ctx context.Context, id int64) error {
	current, err := c.repo.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	if current.IsSystem {
		return fmt.Errorf("%w: permission %s", ErrSystemProtected, current.Code)
	}
	if err := c.repo.DeletePermission(ctx, id); err != nil {
		return err
	}
	c.hook.changed(ctx, "permission.delete")
	return nil
}
