// Package memstore is an in-memory rbac.Store for tests and local tooling.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

// ErrInjected is returned by writes configured to fail with FailGrant.
var ErrInjected = errors.New("memstore: injected failure")

type grantKey struct {
	roleID, permissionID int64
}

type state struct {
	permissions map[int64]rbac.Permission
	roles       map[int64]rbac.Role
	grants      map[grantKey]rbac.RolePermission
	assignments map[int64]rbac.Assignment
	nextID      int64
}

func (s *state) clone() *state {
	c := &state{
		permissions: make(map[int64]rbac.Permission, len(s.permissions)),
		roles:       make(map[int64]rbac.Role, len(s.roles)),
		grants:      make(map[grantKey]rbac.RolePermission, len(s.grants)),
		assignments: make(map[int64]rbac.Assignment, len(s.assignments)),
		nextID:      s.nextID,
	}
	for k, v := range s.permissions {
		c.permissions[k] = v
	}
	for k, v := range s.roles {
		c.roles[k] = v
	}
	for k, v := range s.grants {
		c.grants[k] = v
	}
	for k, v := range s.assignments {
		c.assignments[k] = v
	}
	return c
}

// Store keeps authorization data in maps. WithTx works on a copy of the state
// and swaps it in only when fn succeeds.
type Store struct {
	mu    *sync.Mutex
	state *state

	failGrant map[int64]bool
	gathers   *int
}

var _ rbac.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		mu: &sync.Mutex{},
		state: &state{
			permissions: make(map[int64]rbac.Permission),
			roles:       make(map[int64]rbac.Role),
			grants:      make(map[grantKey]rbac.RolePermission),
			assignments: make(map[int64]rbac.Assignment),
		},
		failGrant: make(map[int64]bool),
		gathers:   new(int),
	}
}

// FailGrant makes every later UpsertGrant for permissionID fail.
func (m *Store) FailGrant(permissionID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failGrant[permissionID] = true
}

// Gathers counts ListEffectiveGrants calls.
func (m *Store) Gathers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.gathers
}

// GrantRows returns the stored grant rows of a role.
func (m *Store) GrantRows(roleID int64) []rbac.RolePermission {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rbac.RolePermission
	for k, g := range m.state.grants {
		if k.roleID == roleID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PermissionID < out[j].PermissionID })
	return out
}

// WithTx runs fn against a draft copy and commits it when fn returns nil.
// The store stays locked until fn returns, so other calls wait for the
// transaction instead of being overwritten by its commit. fn must only use
// the Store it is given.
func (m *Store) WithTx(ctx context.Context, fn func(context.Context, rbac.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	draft := &Store{mu: &sync.Mutex{}, state: m.state.clone(), failGrant: m.failGrant, gathers: m.gathers}
	if err := fn(ctx, draft); err != nil {
		return err
	}
	m.state = draft.state
	return nil
}

func (m *Store) id() int64 {
	m.state.nextID++
	return m.state.nextID
}

func (m *Store) CreatePermission(_ context.Context, p rbac.Permission) (rbac.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.state.permissions {
		if existing.Code == p.Code {
			return rbac.Permission{}, rbac.ErrDuplicateCode
		}
	}
	p.ID = m.id()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	m.state.permissions[p.ID] = p
	return p, nil
}

func (m *Store) GetPermission(_ context.Context, id int64) (rbac.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.permissions[id]
	if !ok {
		return rbac.Permission{}, rbac.ErrNotFound
	}
	return p, nil
}

func (m *Store) GetPermissionByCode(_ context.Context, code string) (rbac.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.state.permissions {
		if p.Code == code {
			return p, nil
		}
	}
	return rbac.Permission{}, rbac.ErrNotFound
}

func (m *Store) ListPermissions(_ context.Context, filter rbac.PermissionFilter) ([]rbac.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rbac.Permission
	for _, p := range m.state.permissions {
		if filter.Resource != "" && p.Resource != filter.Resource {
			continue
		}
		if filter.ActiveOnly && !p.IsActive {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Store) UpdatePermission(_ context.Context, p rbac.Permission) (rbac.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.permissions[p.ID]; !ok {
		return rbac.Permission{}, rbac.ErrNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	m.state.permissions[p.ID] = p
	return p, nil
}

func (m *Store) DeletePermission(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.permissions[id]; !ok {
		return rbac.ErrNotFound
	}
	delete(m.state.permissions, id)
	for k := range m.state.grants {
		if k.permissionID == id {
			delete(m.state.grants, k)
		}
	}
	return nil
}

func (m *Store) CreateRole(_ context.Context, r rbac.Role) (rbac.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.state.roles {
		if existing.Code == r.Code {
			return rbac.Role{}, rbac.ErrDuplicateCode
		}
	}
	r.ID = m.id()
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	m.state.roles[r.ID] = r
	return r, nil
}

func (m *Store) GetRole(_ context.Context, id int64) (rbac.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state.roles[id]
	if !ok {
		return rbac.Role{}, rbac.ErrNotFound
	}
	return r, nil
}

func (m *Store) GetRoleByCode(_ context.Context, code string) (rbac.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.state.roles {
		if r.Code == code {
			return r, nil
		}
	}
	return rbac.Role{}, rbac.ErrNotFound
}

func (m *Store) ListRoles(context.Context) ([]rbac.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]rbac.Role, 0, len(m.state.roles))
	for _, r := range m.state.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (m *Store) UpdateRole(_ context.Context, r rbac.Role) (rbac.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.roles[r.ID]; !ok {
		return rbac.Role{}, rbac.ErrNotFound
	}
	r.UpdatedAt = time.Now().UTC()
	m.state.roles[r.ID] = r
	return r, nil
}

func (m *Store) DeleteRole(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.roles[id]; !ok {
		return rbac.ErrNotFound
	}
	delete(m.state.roles, id)
	for k := range m.state.grants {
		if k.roleID == id {
			delete(m.state.grants, k)
		}
	}
	for k, a := range m.state.assignments {
		if a.RoleID == id {
			delete(m.state.assignments, k)
		}
	}
	return nil
}

func (m *Store) UpsertGrant(_ context.Context, grant rbac.RolePermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGrant[grant.PermissionID] {
		return ErrInjected
	}
	key := grantKey{grant.RoleID, grant.PermissionID}
	if _, ok := m.state.grants[key]; !ok {
		m.state.grants[key] = grant
	}
	return nil
}

func (m *Store) DeleteGrant(_ context.Context, roleID, permissionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state.grants, grantKey{roleID, permissionID})
	return nil
}

func (m *Store) DeleteGrantsForRole(_ context.Context, roleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.state.grants {
		if k.roleID == roleID {
			delete(m.state.grants, k)
		}
	}
	return nil
}

func (m *Store) ListRolePermissions(_ context.Context, roleID int64) ([]rbac.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rolePermissions(roleID, false), nil
}

func (m *Store) rolePermissions(roleID int64, activeOnly bool) []rbac.Permission {
	var out []rbac.Permission
	for k := range m.state.grants {
		if k.roleID != roleID {
			continue
		}
		p := m.state.permissions[k.permissionID]
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Store) UpsertAssignment(_ context.Context, a rbac.Assignment) (rbac.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.state.assignments {
		if existing.UserID == a.UserID && existing.RoleID == a.RoleID && sameDepartment(existing.DepartmentID, a.DepartmentID) {
			existing.AssignedAt = a.AssignedAt
			existing.AssignedBy = a.AssignedBy
			existing.ExpiresAt = a.ExpiresAt
			existing.IsActive = true
			m.state.assignments[id] = existing
			return existing, nil
		}
	}
	a.ID = m.id()
	a.IsActive = true
	m.state.assignments[a.ID] = a
	return a, nil
}

func (m *Store) DeactivateAssignments(_ context.Context, userID, roleID int64, departmentID *int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, a := range m.state.assignments {
		if a.UserID == userID && a.RoleID == roleID && sameDepartment(a.DepartmentID, departmentID) && a.IsActive {
			a.IsActive = false
			m.state.assignments[id] = a
			n++
		}
	}
	return n, nil
}

func (m *Store) ListAssignments(_ context.Context, userID int64) ([]rbac.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rbac.Assignment
	for _, a := range m.state.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, a := range m.state.assignments {
		if a.IsActive && a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
			a.IsActive = false
			m.state.assignments[id] = a
			n++
		}
	}
	return n, nil
}

func (m *Store) ListEffectiveGrants(_ context.Context, userID int64, departmentID *int64, now time.Time) ([]rbac.AssignmentGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*m.gathers++
	var out []rbac.AssignmentGrant
	for _, a := range m.state.assignments {
		if a.UserID != userID || !a.EffectiveAt(now) {
			continue
		}
		if departmentID != nil && !a.IsGlobal() && !sameDepartment(a.DepartmentID, departmentID) {
			continue
		}
		role, ok := m.state.roles[a.RoleID]
		if !ok {
			continue
		}
		out = append(out, rbac.AssignmentGrant{Assignment: a, Role: role, Permissions: m.rolePermissions(role.ID, true)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Assignment.ID < out[j].Assignment.ID })
	return out, nil
}

func sameDepartment(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Directory is a map backed rbac.Directory.
type Directory struct {
	Users       map[int64]bool
	Departments map[int64]bool
}

func (d Directory) UserExists(_ context.Context, id int64) (bool, error) {
	return d.Users[id], nil
}

func (d Directory) DepartmentExists(_ context.Context, id int64) (bool, error) {
	return d.Departments[id], nil
}
