package audit

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Sink persists audit log entries. shared.AuditLogger satisfies it.
type Sink interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Recorder stores decision events as audit_logs rows.
type Recorder struct {
	sink Sink
}

// NewRecorder constructs a Recorder writing to sink.
func NewRecorder(sink Sink) *Recorder {
	return &Recorder{sink: sink}
}

// NotifyDecision implements rbac.DecisionNotifier.
func (r *Recorder) NotifyDecision(ctx context.Context, event rbac.DecisionEvent) error {
	return r.sink.Record(ctx, EntryFor(event))
}

// EntryFor maps a decision event onto an audit_logs entry.
func EntryFor(event rbac.DecisionEvent) shared.AuditLog {
	action := ActionDeny
	if event.Allowed {
		action = ActionAllow
	}
	meta := map[string]any{
		"resource": string(event.Resource),
		"action":   string(event.Action),
	}
	if event.Reason != "" {
		meta["reason"] = event.Reason
	}
	if event.PermissionCode != "" {
		meta["permission_code"] = event.PermissionCode
	}
	if event.Scope != "" {
		meta["scope"] = string(event.Scope)
	}
	if event.TargetDepartmentID != nil {
		meta["target_department_id"] = *event.TargetDepartmentID
	}
	if event.TargetOwnerID != nil {
		meta["target_owner_id"] = *event.TargetOwnerID
	}
	actor := event.UserID
	return shared.AuditLog{
		ActorID:  &actor,
		Action:   action,
		Entity:   EntityDecision,
		EntityID: event.ID.String(),
		Meta:     meta,
		At:       event.At,
	}
}

// OnceRecorder stores each decision event at most once. The event ID is
// claimed in the same transaction as the audit row, so a redelivered task
// is a no-op.
type OnceRecorder struct {
	db db.Beginner
}

// NewOnceRecorder constructs a OnceRecorder. *pgxpool.Pool satisfies db.
func NewOnceRecorder(pool db.Beginner) *OnceRecorder {
	return &OnceRecorder{db: pool}
}

// NotifyDecision implements rbac.DecisionNotifier.
func (r *OnceRecorder) NotifyDecision(ctx context.Context, event rbac.DecisionEvent) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		err := shared.NewIdempotencyStore(tx).CheckAndInsert(ctx, event.ID.String(), EntityDecision)
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return nil
		}
		if err != nil {
			return err
		}
		return shared.NewAuditLogger(tx).Record(ctx, EntryFor(event))
	})
}
