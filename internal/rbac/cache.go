package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheVersionKey = "rbac:version"
	bumpChannel     = "rbac.bump"
)

// SnapshotCache stores EffectivePermissions snapshots in Redis. Any change to
// authorization data bumps a global version, orphaning every cached snapshot.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewSnapshotCache instantiates the cache helper.
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SnapshotCache{client: client, ttl: ttl, now: time.Now}
}

// WithLogger sets the logger used to report Redis failures.
func (c *SnapshotCache) WithLogger(logger *slog.Logger) *SnapshotCache {
	if c != nil {
		c.logger = logger
	}
	return c
}

// Version returns the current cache version, initialising when missing.
func (c *SnapshotCache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *SnapshotCache) key(ctx context.Context, userID int64) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("rbac:effective:%d:%d", userID, ver), nil
}

// Fetch returns the cached snapshot or computes and stores it. The entry
// lives no longer than the earliest assignment expiry inside it. Redis
// failures are logged and the snapshot is served from loader.
func (c *SnapshotCache) Fetch(ctx context.Context, userID int64, loader func(context.Context, int64) (EffectivePermissions, error)) (EffectivePermissions, error) {
	if loader == nil {
		return EffectivePermissions{}, errors.New("rbac cache: loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx, userID)
	}
	key, err := c.key(ctx, userID)
	if err != nil {
		c.warn("rbac cache: read version", userID, err)
		return loader(ctx, userID)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var snapshot EffectivePermissions
		if err := json.Unmarshal(payload, &snapshot); err == nil {
			return snapshot, nil
		}
	case !errors.Is(err, redis.Nil):
		c.warn("rbac cache: read snapshot", userID, err)
		return loader(ctx, userID)
	}
	snapshot, err := loader(ctx, userID)
	if err != nil {
		return EffectivePermissions{}, err
	}
	ttl := c.ttl
	if snapshot.ExpiresAt != nil {
		until := snapshot.ExpiresAt.Sub(c.now())
		if until <= 0 {
			return snapshot, nil
		}
		if until < ttl {
			ttl = until
		}
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return EffectivePermissions{}, err
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.warn("rbac cache: store snapshot", userID, err)
	}
	return snapshot, nil
}

func (c *SnapshotCache) warn(msg string, userID int64, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Warn(msg, slog.Int64("user_id", userID), slog.Any("error", err))
}

// Bump invalidates every snapshot by incrementing the version and publishing it.
func (c *SnapshotCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(ver, 10)).Err()
}
