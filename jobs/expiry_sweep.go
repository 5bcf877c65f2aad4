package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	jobmetrics "github.com/odyssey-erp/odyssey-authz/internal/jobs"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Sweeper deactivates expired assignments. rbac.AssignmentStore satisfies it.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// ExpirySweepJob flips expired assignments to inactive. Evaluation already
// ignores them; the sweep keeps listings and the unique key tidy.
type ExpirySweepJob struct {
	Sweeper Sweeper
	// Audit receives one entry per completed sweep when set.
	Audit   audit.Sink
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewExpirySweepJob initialises the sweep handler.
func NewExpirySweepJob(sweeper Sweeper, sink audit.Sink, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpirySweepJob {
	return &ExpirySweepJob{Sweeper: sweeper, Audit: sink, Logger: logger, Metrics: metrics}
}

// Handle runs one sweep.
func (j *ExpirySweepJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Sweeper == nil {
		return errors.New("expiry sweep: handler not configured")
	}
	tracker := j.Metrics.Track(TaskAssignmentExpirySweep)
	defer func() { err = tracker.End(err) }()

	n, err := j.Sweeper.SweepExpired(ctx)
	if err != nil {
		j.logger().Error("expiry sweep failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddSwept(n)
	j.logger().Info("expiry sweep finished", slog.Int64("deactivated", n))
	if j.Audit != nil {
		entry := shared.AuditLog{
			Action:   "SWEEP",
			Entity:   "rbac_assignment",
			EntityID: "expiry_sweep",
			Meta:     map[string]any{"deactivated": n},
		}
		if err := j.Audit.Record(ctx, entry); err != nil {
			// The sweep itself succeeded; a retry would only repeat the audit row.
			j.logger().Warn("expiry sweep audit failed", slog.Any("error", err))
		}
	}
	return nil
}

func (j *ExpirySweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
