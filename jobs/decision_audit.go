package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-authz/internal/jobs"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

// DecisionAuditJob stores decision events taken off the audit queue.
type DecisionAuditJob struct {
	Recorder rbac.DecisionNotifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewDecisionAuditJob initialises the handler.
func NewDecisionAuditJob(recorder rbac.DecisionNotifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *DecisionAuditJob {
	return &DecisionAuditJob{Recorder: recorder, Logger: logger, Metrics: metrics}
}

// Handle decodes and persists one event. Undecodable payloads are not retried.
func (j *DecisionAuditJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Recorder == nil {
		return errors.New("decision audit: handler not configured")
	}
	tracker := j.Metrics.Track(TaskDecisionAudit)
	defer func() { err = tracker.End(err) }()

	var event rbac.DecisionEvent
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		return fmt.Errorf("decision audit: decode: %v: %w", err, asynq.SkipRetry)
	}
	if err := j.Recorder.NotifyDecision(ctx, event); err != nil {
		if j.Logger != nil {
			j.Logger.Warn("decision audit failed", slog.String("event", event.ID.String()), slog.Any("error", err))
		}
		return err
	}
	return nil
}
