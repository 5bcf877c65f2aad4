package rbac_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac/memstore"
)

var fixedNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *memstore.Store
	svc   *rbac.Service
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, rbac.Options{})
}

// newFixtureWith builds a service over a fresh memstore; opts.Store and
// opts.Now are filled in.
func newFixtureWith(t *testing.T, opts rbac.Options) *fixture {
	t.Helper()
	f := &fixture{t: t, ctx: context.Background(), store: memstore.New(), now: fixedNow}
	opts.Store = f.store
	opts.Now = func() time.Time { return f.now }
	f.svc = rbac.NewService(opts)
	return f
}

func (f *fixture) permission(resource rbac.Resource, action rbac.Action, scope rbac.Scope) rbac.Permission {
	f.t.Helper()
	p, err := f.svc.Catalog.Create(f.ctx, rbac.PermissionInput{
		Code:     rbac.CatalogCode(resource, action, scope),
		Name:     string(resource) + " " + string(action),
		Resource: resource,
		Action:   action,
		Scope:    scope,
	})
	require.NoError(f.t, err)
	return p
}

func (f *fixture) role(code string, perms ...rbac.Permission) rbac.Role {
	f.t.Helper()
	r, err := f.svc.Roles.Create(f.ctx, rbac.RoleInput{Code: code, Name: code})
	require.NoError(f.t, err)
	for _, p := range perms {
		require.NoError(f.t, f.svc.Roles.GrantPermission(f.ctx, r.ID, p.ID, nil))
	}
	return r
}

func (f *fixture) assign(userID int64, role rbac.Role, departmentID *int64, expiresAt *time.Time) rbac.Assignment {
	f.t.Helper()
	a, err := f.svc.Assignments.Assign(f.ctx, rbac.AssignInput{UserID: userID, RoleID: role.ID, DepartmentID: departmentID, ExpiresAt: expiresAt})
	require.NoError(f.t, err)
	return a
}

func (f *fixture) check(req rbac.CheckRequest) rbac.Decision {
	f.t.Helper()
	d, err := f.svc.CheckPermission(f.ctx, req)
	require.NoError(f.t, err)
	return d
}

type countingInvalidator struct {
	mu    sync.Mutex
	bumps int
	err   error
}

func (c *countingInvalidator) Bump(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bumps++
	return c.err
}

func (c *countingInvalidator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bumps
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []rbac.DecisionEvent
	err    error
	panics bool
}

func (r *recordingNotifier) NotifyDecision(_ context.Context, event rbac.DecisionEvent) error {
	if r.panics {
		panic("notifier exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingNotifier) recorded() []rbac.DecisionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]rbac.DecisionEvent, len(r.events))
	copy(out, r.events)
	return out
}

func int64Ptr(v int64) *int64 { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func permissionIDs(perms []rbac.Permission) []int64 {
	ids := make([]int64, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.ID)
	}
	return ids
}

func assignmentIDs(list []rbac.Assignment) []int64 {
	ids := make([]int64, 0, len(list))
	for _, a := range list {
		ids = append(ids, a.ID)
	}
	return ids
}
