package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RoleSeed is a role plus the permission codes it should be granted.
type RoleSeed struct {
	Role   RoleInput
	Grants []string
}

// CatalogSeed is the initial catalog installed by Seed.
type CatalogSeed struct {
	Permissions []PermissionInput
	Roles       []RoleSeed
}

// SeedReport summarises what Seed created.
type SeedReport struct {
	PermissionsCreated int
	RolesCreated       int
	GrantsApplied      int
}

// DefaultCatalog returns the system catalog: every core resource and action
// at scope ALL, narrower expense claim and file variants, and the
// super-admin, manager and employee roles.
func DefaultCatalog() CatalogSeed {
	var perms []PermissionInput
	for _, resource := range CoreResources() {
		for _, action := range Actions() {
			perms = append(perms, PermissionInput{
				Code:     PermissionCode(resource, action),
				Name:     titleCase(resource, action, ""),
				Resource: resource,
				Action:   action,
				Scope:    ScopeAll,
				IsSystem: true,
			})
		}
	}
	variant := func(resource Resource, action Action, scope Scope) PermissionInput {
		return PermissionInput{
			Code:     CatalogCode(resource, action, scope),
			Name:     titleCase(resource, action, scope),
			Resource: resource,
			Action:   action,
			Scope:    scope,
			IsSystem: true,
		}
	}
	for _, action := range []Action{ActionRead, ActionUpdate, ActionSubmit, ActionCancel} {
		perms = append(perms, variant(ResourceExpenseClaim, action, ScopeOwn))
	}
	for _, action := range []Action{ActionRead, ActionList, ActionApprove, ActionReject} {
		perms = append(perms, variant(ResourceExpenseClaim, action, ScopeDepartment))
	}
	perms = append(perms,
		variant(ResourceFile, ActionRead, ScopeOwn),
		variant(ResourceFile, ActionRead, ScopeDepartment),
	)

	manage := make([]string, 0, len(CoreResources()))
	for _, resource := range CoreResources() {
		manage = append(manage, PermissionCode(resource, ActionManage))
	}

	return CatalogSeed{
		Permissions: perms,
		Roles: []RoleSeed{
			{
				Role:   RoleInput{Code: "super-admin", Name: "Super Admin", Description: "Full access to every resource", Level: 100, IsSystem: true},
				Grants: manage,
			},
			{
				Role: RoleInput{Code: "manager", Name: "Manager", Description: "Approves expense claims within a department", Level: 50, IsSystem: true},
				Grants: []string{
					"expense_claim:read:department",
					"expense_claim:list:department",
					"expense_claim:approve:department",
					"expense_claim:reject:department",
					"file:read:department",
					"user:read",
					"department:read",
					"report:read",
				},
			},
			{
				Role: RoleInput{Code: "employee", Name: "Employee", Description: "Submits and tracks own expense claims", Level: 10, IsSystem: true},
				Grants: []string{
					"expense_claim:create",
					"expense_claim:read:own",
					"expense_claim:update:own",
					"expense_claim:submit:own",
					"expense_claim:cancel:own",
					"file:create",
					"file:read:own",
				},
			},
		},
	}
}

func titleCase(resource Resource, action Action, scope Scope) string {
	words := strings.Fields(strings.ReplaceAll(strings.ToLower(string(action)+" "+string(resource)), "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	name := strings.Join(words, " ")
	if scope != "" {
		name += " (" + strings.ToLower(string(scope)) + ")"
	}
	return name
}

// Seed installs seed idempotently: existing permissions and roles are kept
// as they are and missing grants are added.
func (s *Service) Seed(ctx context.Context, seed CatalogSeed) (SeedReport, error) {
	var report SeedReport
	ids := make(map[string]int64, len(seed.Permissions))
	for _, in := range seed.Permissions {
		code := normalizeCode(in.Code)
		if code == "" {
			code = PermissionCode(in.Resource, in.Action)
		}
		existing, err := s.Catalog.GetByCode(ctx, code)
		switch {
		case err == nil:
			ids[code] = existing.ID
			continue
		case !errors.Is(err, ErrNotFound):
			return report, err
		}
		created, err := s.Catalog.Create(ctx, in)
		if err != nil {
			return report, fmt.Errorf("seed permission %s: %w", code, err)
		}
		ids[code] = created.ID
		report.PermissionsCreated++
	}
	for _, rs := range seed.Roles {
		role, err := s.Roles.GetByCode(ctx, rs.Role.Code)
		if errors.Is(err, ErrNotFound) {
			role, err = s.Roles.Create(ctx, rs.Role)
			if err == nil {
				report.RolesCreated++
			}
		}
		if err != nil {
			return report, fmt.Errorf("seed role %s: %w", rs.Role.Code, err)
		}
		for _, code := range rs.Grants {
			id, ok := ids[normalizeCode(code)]
			if !ok {
				perm, err := s.Catalog.GetByCode(ctx, code)
				if err != nil {
					return report, fmt.Errorf("seed grant %s -> %s: %w", role.Code, code, err)
				}
				id = perm.ID
			}
			if err := s.Roles.GrantPermission(ctx, role.ID, id, nil); err != nil {
				return report, fmt.Errorf("seed grant %s -> %s: %w", role.Code, code, err)
			}
			report.GrantsApplied++
		}
	}
	if s.logger != nil {
		s.logger.Info("rbac catalog seeded",
			"permissions_created", report.PermissionsCreated,
			"roles_created", report.RolesCreated,
			"grants", report.GrantsApplied)
	}
	return report, nil
}
