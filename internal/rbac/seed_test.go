package rbac_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

func TestSeedDefaultCatalogIsIdempotent(t *testing.T) {
	f := newFixture(t)
	seed := rbac.DefaultCatalog()

	report, err := f.svc.Seed(f.ctx, seed)
	require.NoError(t, err)
	require.Equal(t, len(seed.Permissions), report.PermissionsCreated)
	require.Equal(t, 3, report.RolesCreated)

	again, err := f.svc.Seed(f.ctx, seed)
	require.NoError(t, err)
	require.Zero(t, again.PermissionsCreated)
	require.Zero(t, again.RolesCreated)

	admin, err := f.svc.Roles.GetByCode(f.ctx, "super-admin")
	require.NoError(t, err)
	require.True(t, admin.IsSystem)
	perms, err := f.svc.Roles.Permissions(f.ctx, admin.ID)
	require.NoError(t, err)
	require.Len(t, perms, len(rbac.CoreResources()))
}

func TestSeededRolesEvaluate(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Seed(f.ctx, rbac.DefaultCatalog())
	require.NoError(t, err)

	admin, err := f.svc.Roles.GetByCode(f.ctx, "super-admin")
	require.NoError(t, err)
	employee, err := f.svc.Roles.GetByCode(f.ctx, "employee")
	require.NoError(t, err)
	manager, err := f.svc.Roles.GetByCode(f.ctx, "manager")
	require.NoError(t, err)
	dept := int64(8)

	f.assign(1, admin, nil, nil)
	f.assign(2, employee, nil, nil)
	f.assign(3, manager, &dept, nil)

	d := f.check(rbac.CheckRequest{UserID: 1, Resource: rbac.ResourceUser, Action: rbac.ActionDelete})
	require.True(t, d.Allowed)
	require.Equal(t, "user:manage", d.MatchedPermission.Code)

	d = f.check(rbac.CheckRequest{UserID: 2, Resource: rbac.ResourceExpenseClaim, Action: rbac.ActionUpdate, TargetOwnerID: int64Ptr(3)})
	require.False(t, d.Allowed)
	require.Equal(t, rbac.ReasonOwnScope, d.Reason)

	d = f.check(rbac.CheckRequest{UserID: 3, Resource: rbac.ResourceExpenseClaim, Action: rbac.ActionApprove, TargetDepartmentID: &dept})
	require.True(t, d.Allowed)
	require.Equal(t, rbac.ScopeDepartment, d.EffectiveScope)
}

