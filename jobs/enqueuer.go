package jobs

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

// TaskEnqueuer submits tasks. *asynq.Client satisfies it.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// DecisionEnqueuer hands decision events to the worker through the audit
// queue. It implements rbac.DecisionNotifier.
type DecisionEnqueuer struct {
	client TaskEnqueuer
}

// NewDecisionEnqueuer wraps an asynq client.
func NewDecisionEnqueuer(client TaskEnqueuer) *DecisionEnqueuer {
	return &DecisionEnqueuer{client: client}
}

// NotifyDecision enqueues the event. An event already queued is not an error.
func (e *DecisionEnqueuer) NotifyDecision(ctx context.Context, event rbac.DecisionEvent) error {
	task, err := NewDecisionAuditTask(event)
	if err != nil {
		return err
	}
	_, err = e.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}
