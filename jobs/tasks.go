// Package jobs runs the RBAC background work on asynq: decision audit
// persistence and the assignment expiry sweep.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

const (
	// QueueDefault carries maintenance tasks.
	QueueDefault = "default"
	// QueueAudit carries decision audit events.
	QueueAudit = "audit"

	// TaskDecisionAudit persists one access decision.
	TaskDecisionAudit = "rbac:decision_audit"
	// TaskAssignmentExpirySweep deactivates expired assignments.
	TaskAssignmentExpirySweep = "rbac:assignment_expiry_sweep"
)

// ExpirySweepCron runs the sweep hourly.
const ExpirySweepCron = "0 * * * *"

// NewDecisionAuditTask wraps a decision event. The event ID doubles as the
// task ID so a re-enqueued event is stored once.
func NewDecisionAuditTask(event rbac.DecisionEvent) (*asynq.Task, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDecisionAudit, data,
		asynq.TaskID(event.ID.String()),
		asynq.Queue(QueueAudit),
		asynq.MaxRetry(5),
		asynq.Retention(time.Hour),
	), nil
}

// NewExpirySweepTask builds the sweep task. Only one sweep is queued at a time.
func NewExpirySweepTask() *asynq.Task {
	return asynq.NewTask(TaskAssignmentExpirySweep, nil,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Unique(30*time.Minute),
	)
}
