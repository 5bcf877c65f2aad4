package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-authz/internal/departments"
	"github.com/odyssey-erp/odyssey-authz/internal/observability"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac/pgstore"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
	"github.com/odyssey-erp/odyssey-authz/internal/users"
)

// Runtime holds the connections and services shared by every binary.
type Runtime struct {
	Config      *Config
	Logger      *slog.Logger
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Store       *pgstore.Store
	Users       *users.Service
	Departments *departments.Service
	AuditLogger *shared.AuditLogger
	Metrics     *observability.Metrics
	RBACMetrics *rbac.Metrics
}

// Open connects to Postgres and Redis and builds the directory services.
// Redis is optional: when it does not answer the snapshot cache is skipped.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	pool, err := db.New(ctx, cfg.DBOptions())
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	rt := &Runtime{
		Config:      cfg,
		Logger:      logger,
		Pool:        pool,
		Store:       pgstore.New(pool),
		Users:       users.NewService(users.NewRepository(pool)),
		Departments: departments.NewService(departments.NewRepository(pool)),
		AuditLogger: shared.NewAuditLogger(pool),
		Metrics:     observability.NewMetrics(),
	}
	rt.RBACMetrics = rbac.NewMetrics(rt.Metrics.Registerer())

	client, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Warn("redis unavailable, snapshot cache disabled", slog.Any("error", err))
	} else {
		rt.Redis = client
	}
	return rt, nil
}

// Authorizer builds the RBAC service over the Postgres store.
func (rt *Runtime) Authorizer(notifier rbac.DecisionNotifier) *rbac.Service {
	opts := rbac.Options{
		Store:     rt.Store,
		Directory: NewDirectory(rt.Users, rt.Departments),
		Notifier:  notifier,
		Metrics:   rt.RBACMetrics,
		Logger:    rt.Logger,
	}
	if rt.Redis != nil {
		opts.Cache = rbac.NewSnapshotCache(rt.Redis, rt.Config.RBACCacheTTL).WithLogger(rt.Logger)
	}
	return rbac.NewService(opts)
}

// Close releases connections.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			rt.Logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
}
