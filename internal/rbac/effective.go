package rbac

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
)

// EffectivePermissions is a snapshot of everything a user currently holds.
// Callers may keep it for the duration of a request or session and query it
// locally.
type EffectivePermissions struct {
	UserID      int64            `json:"user_id"`
	Permissions []Permission     `json:"permissions"`
	Roles       []Role           `json:"roles"`
	// DepartmentRoles buckets department-scoped roles by department ID.
	// Global assignments do not appear here.
	DepartmentRoles map[int64][]Role `json:"department_roles"`
	ComputedAt      time.Time        `json:"computed_at"`
	// ExpiresAt is the earliest expiry among contributing assignments.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Has reports whether the snapshot grants action on resource, either exactly
// or through MANAGE.
func (e EffectivePermissions) Has(resource Resource, action Action) bool {
	return len(matching(e.Permissions, resource, action)) > 0
}

// HasCode is Has for a permission code such as "user:read".
func (e EffectivePermissions) HasCode(code string) bool {
	resource, action, err := ParseCode(code)
	if err != nil {
		return false
	}
	return e.Has(resource, action)
}

// HasRole reports whether the snapshot includes the role code.
func (e EffectivePermissions) HasRole(code string) bool {
	code = normalizeCode(code)
	for _, r := range e.Roles {
		if r.Code == code {
			return true
		}
	}
	return false
}

// Codes returns the sorted canonical codes of all held permissions.
func (e EffectivePermissions) Codes() []string {
	unique := make(map[string]struct{}, len(e.Permissions))
	for _, p := range e.Permissions {
		unique[PermissionCode(p.Resource, p.Action)] = struct{}{}
	}
	codes := make([]string, 0, len(unique))
	for c := range unique {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// Aggregator computes EffectivePermissions snapshots.
type Aggregator struct {
	engine *Engine
	cache  *SnapshotCache
	group  singleflight.Group
}

// NewAggregator constructs an Aggregator. cache may be nil.
func NewAggregator(engine *Engine, cache *SnapshotCache) *Aggregator {
	return &Aggregator{engine: engine, cache: cache}
}

// GetEffectivePermissions returns the user's snapshot, served from the cache
// when one is configured. Concurrent calls for the same user share one
// computation, which is not cancelled when the caller that started it goes away.
func (a *Aggregator) GetEffectivePermissions(ctx context.Context, userID int64) (EffectivePermissions, error) {
	if userID <= 0 {
		return EffectivePermissions{}, fmt.Errorf("%w: user id required", ErrValidation)
	}
	work := context.WithoutCancel(ctx)
	ch := a.group.DoChan(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		if a.cache != nil {
			return a.cache.Fetch(work, userID, a.Compute)
		}
		return a.Compute(work, userID)
	})
	select {
	case <-ctx.Done():
		return EffectivePermissions{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return EffectivePermissions{}, res.Err
		}
		return res.Val.(EffectivePermissions), nil
	}
}

// Compute builds a fresh snapshot, bypassing the cache.
func (a *Aggregator) Compute(ctx context.Context, userID int64) (EffectivePermissions, error) {
	set, err := a.engine.gather(ctx, userID, nil, true)
	if err != nil {
		return EffectivePermissions{}, fmt.Errorf("rbac: gather effective permissions: %w", err)
	}
	snapshot := EffectivePermissions{
		UserID:          userID,
		Permissions:     set.permissions,
		Roles:           []Role{},
		DepartmentRoles: map[int64][]Role{},
		ComputedAt:      set.gatheredAt,
	}
	if snapshot.Permissions == nil {
		snapshot.Permissions = []Permission{}
	}
	seenRoles := make(map[int64]struct{})
	seenDept := make(map[int64]map[int64]struct{})
	for _, g := range set.grants {
		if _, ok := seenRoles[g.Role.ID]; !ok {
			seenRoles[g.Role.ID] = struct{}{}
			snapshot.Roles = append(snapshot.Roles, g.Role)
		}
		if exp := g.Assignment.ExpiresAt; exp != nil {
			if snapshot.ExpiresAt == nil || exp.Before(*snapshot.ExpiresAt) {
				t := *exp
				snapshot.ExpiresAt = &t
			}
		}
		if g.Assignment.DepartmentID == nil {
			continue
		}
		dept := *g.Assignment.DepartmentID
		if seenDept[dept] == nil {
			seenDept[dept] = make(map[int64]struct{})
		}
		if _, ok := seenDept[dept][g.Role.ID]; ok {
			continue
		}
		seenDept[dept][g.Role.ID] = struct{}{}
		snapshot.DepartmentRoles[dept] = append(snapshot.DepartmentRoles[dept], g.Role)
	}
	return snapshot, nil
}
