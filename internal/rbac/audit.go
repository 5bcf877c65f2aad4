package rbac

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DecisionEvent records one access decision for audit purposes.
type DecisionEvent struct {
	ID                 uuid.UUID `json:"id"`
	UserID             int64     `json:"user_id"`
	Resource           Resource  `json:"resource"`
	Action             Action    `json:"action"`
	TargetDepartmentID *int64    `json:"target_department_id,omitempty"`
	TargetOwnerID      *int64    `json:"target_owner_id,omitempty"`
	Allowed            bool      `json:"allowed"`
	Reason             string    `json:"reason,omitempty"`
	PermissionCode     string    `json:"permission_code,omitempty"`
	Scope              Scope     `json:"scope,omitempty"`
	At                 time.Time `json:"at"`
}

func newDecisionEvent(req CheckRequest, decision Decision, at time.Time) DecisionEvent {
	event := DecisionEvent{
		ID:                 uuid.New(),
		UserID:             req.UserID,
		Resource:           req.Resource,
		Action:             req.Action,
		TargetDepartmentID: req.TargetDepartmentID,
		TargetOwnerID:      req.TargetOwnerID,
		Allowed:            decision.Allowed,
		Reason:             decision.Reason,
		Scope:              decision.EffectiveScope,
		At:                 at,
	}
	if decision.MatchedPermission != nil {
		event.PermissionCode = decision.MatchedPermission.Code
	}
	return event
}

// DecisionNotifier receives access decisions. Implementations must not
// block the caller for long; AsyncNotifier provides that guarantee.
type DecisionNotifier interface {
	NotifyDecision(ctx context.Context, event DecisionEvent) error
}

// AsyncNotifier buffers events and forwards them from a single goroutine.
// When the buffer is full the event is dropped.
type AsyncNotifier struct {
	next    DecisionNotifier
	events  chan DecisionEvent
	logger  *slog.Logger
	metrics *Metrics
	timeout time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

// NewAsyncNotifier wraps next with a buffer of the given size.
func NewAsyncNotifier(next DecisionNotifier, buffer int, logger *slog.Logger, metrics *Metrics) *AsyncNotifier {
	if buffer <= 0 {
		buffer = 256
	}
	return &AsyncNotifier{
		next:    next,
		events:  make(chan DecisionEvent, buffer),
		logger:  logger,
		metrics: metrics,
		timeout: 5 * time.Second,
		closed:  make(chan struct{}),
	}
}

// NotifyDecision enqueues the event without blocking.
func (n *AsyncNotifier) NotifyDecision(_ context.Context, event DecisionEvent) error {
	if n == nil {
		return nil
	}
	select {
	case <-n.closed:
		n.metrics.NotificationDropped()
		return nil
	default:
	}
	select {
	case n.events <- event:
	default:
		n.metrics.NotificationDropped()
	}
	return nil
}

// Run forwards events until ctx is cancelled or Close is called.
func (n *AsyncNotifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-n.closed:
			return nil
		case event := <-n.events:
			n.forward(ctx, event)
		}
	}
}

// Close stops Run. Buffered events are discarded.
func (n *AsyncNotifier) Close() {
	n.closeOnce.Do(func() { close(n.closed) })
}

func (n *AsyncNotifier) forward(ctx context.Context, event DecisionEvent) {
	defer func() {
		if r := recover(); r != nil && n.logger != nil {
			n.logger.Warn("rbac audit notifier panicked", slog.Any("panic", r))
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.next.NotifyDecision(ctx, event); err != nil && n.logger != nil {
		n.logger.Warn("rbac audit notify", slog.String("event", event.ID.String()), slog.Any("error", err))
	}
}
