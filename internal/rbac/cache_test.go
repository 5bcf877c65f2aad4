package rbac_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestSnapshotCacheFetchAndBump(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	cache := rbac.NewSnapshotCache(client, time.Minute)

	calls := 0
	loader := func(_ context.Context, userID int64) (rbac.EffectivePermissions, error) {
		calls++
		return rbac.EffectivePermissions{UserID: userID, Permissions: []rbac.Permission{{ID: int64(calls), Resource: rbac.ResourceUser, Action: rbac.ActionRead}}}, nil
	}

	first, err := cache.Fetch(ctx, 3, loader)
	require.NoError(t, err)
	second, err := cache.Fetch(ctx, 3, loader)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, first.Permissions[0].ID, second.Permissions[0].ID)

	ver, err := cache.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), ver)

	require.NoError(t, cache.Bump(ctx))
	ver, err = cache.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), ver)

	third, err := cache.Fetch(ctx, 3, loader)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Equal(t, int64(2), third.Permissions[0].ID)
}

func TestSnapshotCacheTTLFollowsExpiry(t *testing.T) {
	srv, client := newTestRedis(t)
	ctx := context.Background()
	cache := rbac.NewSnapshotCache(client, 10*time.Minute)
	cache.SetClock(func() time.Time { return fixedNow })

	soon := fixedNow.Add(2 * time.Minute)
	_, err := cache.Fetch(ctx, 5, func(context.Context, int64) (rbac.EffectivePermissions, error) {
		return rbac.EffectivePermissions{UserID: 5, ExpiresAt: &soon}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 2*time.Minute, srv.TTL("rbac:effective:5:1"))

	past := fixedNow.Add(-time.Second)
	_, err = cache.Fetch(ctx, 6, func(context.Context, int64) (rbac.EffectivePermissions, error) {
		return rbac.EffectivePermissions{UserID: 6, ExpiresAt: &past}, nil
	})
	require.NoError(t, err)
	require.False(t, srv.Exists("rbac:effective:6:1"))
}

func TestSnapshotCacheNilSafe(t *testing.T) {
	var cache *rbac.SnapshotCache
	ctx := context.Background()
	require.NoError(t, cache.Bump(ctx))
	snap, err := cache.Fetch(ctx, 1, func(_ context.Context, id int64) (rbac.EffectivePermissions, error) {
		return rbac.EffectivePermissions{UserID: id}, nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), snap.UserID)
	_, err = cache.Fetch(ctx, 1, nil)
	require.Error(t, err)
}

func TestServiceInvalidatesSnapshotsOnChange(t *testing.T) {
	_, client := newTestRedis(t)
	f := newFixtureWith(t, rbac.Options{Cache: rbac.NewSnapshotCache(client, time.Minute)})
	role := f.role("viewer", f.permission(rbac.ResourceReport, rbac.ActionRead, rbac.ScopeAll))
	f.assign(1, role, nil, nil)

	snap, err := f.svc.Effective.GetEffectivePermissions(f.ctx, 1)
	require.NoError(t, err)
	require.True(t, snap.HasCode("report:read"))
	gathers := f.store.Gathers()

	_, err = f.svc.Effective.GetEffectivePermissions(f.ctx, 1)
	require.NoError(t, err)
	require.Equal(t, gathers, f.store.Gathers(), "second read is served from redis")

	require.NoError(t, f.svc.Assignments.Revoke(f.ctx, 1, role.ID, nil))
	snap, err = f.svc.Effective.GetEffectivePermissions(f.ctx, 1)
	require.NoError(t, err)
	require.False(t, snap.HasCode("report:read"))
}

func TestSnapshotCacheFallsBackWhenRedisIsDown(t *testing.T) {
	srv, client := newTestRedis(t)
	ctx := context.Background()
	cache := rbac.NewSnapshotCache(client, time.Minute)

	calls := 0
	loader := func(_ context.Context, userID int64) (rbac.EffectivePermissions, error) {
		calls++
		return rbac.EffectivePermissions{UserID: userID}, nil
	}
	_, err := cache.Fetch(ctx, 5, loader)
	require.NoError(t, err)

	srv.Close()
	snap, err := cache.Fetch(ctx, 5, loader)
	require.NoError(t, err)
	require.Equal(t, int64(5), snap.UserID)
	require.Equal(t, 2, calls)
}

func TestEffectivePermissionsSurviveRedisOutage(t *testing.T) {
	srv, client := newTestRedis(t)
	f := newFixtureWith(t, rbac.Options{Cache: rbac.NewSnapshotCache(client, time.Minute)})
	role := f.role("viewer", f.permission(rbac.ResourceReport, rbac.ActionRead, rbac.ScopeAll))
	f.assign(1, role, nil, nil)

	srv.Close()
	snap, err := f.svc.Effective.GetEffectivePermissions(f.ctx, 1)
	require.NoError(t, err)
	require.True(t, snap.HasCode("report:read"))

	codes, err := f.svc.EffectivePermissions(f.ctx, 1)
	require.NoError(t, err)
	require.Contains(t, codes, "report:read")
}
