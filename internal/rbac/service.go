package rbac

import (
	"context"
	"log/slog"
	"time"
)

// Options collects the dependencies of a Service. Only Store is required.
type Options struct {
	Store     Store
	Directory Directory
	Cache     *SnapshotCache
	Notifier  DecisionNotifier
	Metrics   *Metrics
	Logger    *slog.Logger
	// Now overrides the clock used for expiry checks and timestamps.
	Now func() time.Time
}

// Service orchestrates RBAC operations over a single Store.
type Service struct {
	Catalog     *Catalog
	Roles       *Registry
	Assignments *AssignmentStore
	Engine      *Engine
	Effective   *Aggregator

	logger *slog.Logger
}

// NewService wires the catalog, registry, assignment store, engine and
// aggregator together.
func NewService(opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	hook := changeHook{logger: opts.Logger}
	if opts.Cache != nil {
		hook.cache = opts.Cache
	}

	catalog := NewCatalog(opts.Store)
	catalog.hook = hook

	registry := NewRegistry(opts.Store)
	registry.hook = hook
	registry.now = now

	assignments := NewAssignmentStore(opts.Store, opts.Directory)
	assignments.hook = hook
	assignments.now = now

	engine := NewEngine(opts.Store, opts.Notifier, opts.Metrics, opts.Logger)
	engine.now = now

	return &Service{
		Catalog:     catalog,
		Roles:       registry,
		Assignments: assignments,
		Engine:      engine,
		Effective:   NewAggregator(engine, opts.Cache),
		logger:      opts.Logger,
	}
}

// CheckPermission is shorthand for s.Engine.CheckPermission.
func (s *Service) CheckPermission(ctx context.Context, req CheckRequest) (Decision, error) {
	return s.Engine.CheckPermission(ctx, req)
}

// EffectivePermissions returns the canonical permission codes a user holds.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	snapshot, err := s.Effective.GetEffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return snapshot.Codes(), nil
}
