package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-authz/internal/jobs"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

type recordingNotifier struct {
	events []rbac.DecisionEvent
	err    error
}

func (r *recordingNotifier) NotifyDecision(_ context.Context, event rbac.DecisionEvent) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "x", Queue: QueueAudit, Type: task.Type()}, nil
}

type sweeperFunc func(ctx context.Context) (int64, error)

func (f sweeperFunc) SweepExpired(ctx context.Context) (int64, error) { return f(ctx) }

type sinkFunc func(ctx context.Context, log shared.AuditLog) error

func (f sinkFunc) Record(ctx context.Context, log shared.AuditLog) error { return f(ctx, log) }

func sampleEvent() rbac.DecisionEvent {
	dept := int64(4)
	return rbac.DecisionEvent{
		ID:                 uuid.New(),
		UserID:             7,
		Resource:           rbac.ResourceRole,
		Action:             rbac.ActionRead,
		TargetDepartmentID: &dept,
		Allowed:            true,
		PermissionCode:     "role:read",
		Scope:              rbac.ScopeAll,
		At:                 time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDecisionAuditRoundTrip(t *testing.T) {
	event := sampleEvent()
	enq := &fakeEnqueuer{}
	require.NoError(t, (&DecisionEnqueuer{client: enq}).NotifyDecision(context.Background(), event))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskDecisionAudit, enq.tasks[0].Type())

	rec := &recordingNotifier{}
	job := NewDecisionAuditJob(rec, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, job.Handle(context.Background(), enq.tasks[0]))
	require.Len(t, rec.events, 1)
	require.Equal(t, event.ID, rec.events[0].ID)
	require.Equal(t, int64(4), *rec.events[0].TargetDepartmentID)
	require.True(t, rec.events[0].At.Equal(event.At))
}

func TestDecisionEnqueuerIgnoresDuplicates(t *testing.T) {
	enq := &fakeEnqueuer{err: asynq.ErrTaskIDConflict}
	require.NoError(t, (&DecisionEnqueuer{client: enq}).NotifyDecision(context.Background(), sampleEvent()))

	enq.err = errors.New("redis down")
	require.Error(t, (&DecisionEnqueuer{client: enq}).NotifyDecision(context.Background(), sampleEvent()))
}

func TestDecisionAuditSkipsUndecodablePayload(t *testing.T) {
	job := NewDecisionAuditJob(&recordingNotifier{}, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskDecisionAudit, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	failing := NewDecisionAuditJob(&recordingNotifier{err: errors.New("db down")}, nil, nil)
	payload, err := json.Marshal(sampleEvent())
	require.NoError(t, err)
	err = failing.Handle(context.Background(), asynq.NewTask(TaskDecisionAudit, payload))
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestExpirySweepCountsDeactivations(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	var logged []shared.AuditLog
	sink := sinkFunc(func(_ context.Context, log shared.AuditLog) error {
		logged = append(logged, log)
		return nil
	})
	job := NewExpirySweepJob(sweeperFunc(func(context.Context) (int64, error) { return 3, nil }), sink, nil, metrics)
	require.NoError(t, job.Handle(context.Background(), NewExpirySweepTask()))
	require.Len(t, logged, 1)
	require.Equal(t, "SWEEP", logged[0].Action)
	require.Equal(t, int64(3), logged[0].Meta["deactivated"])

	count, err := testutil.GatherAndCount(reg, "odyssey_authz_assignments_expired_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	failing := NewExpirySweepJob(sweeperFunc(func(context.Context) (int64, error) { return 0, errors.New("boom") }), sink, nil, metrics)
	require.Error(t, failing.Handle(context.Background(), NewExpirySweepTask()))
	require.Error(t, (&ExpirySweepJob{}).Handle(context.Background(), NewExpirySweepTask()))
	require.Len(t, logged, 1, "failed sweeps are not audited")
}

func TestHandlersAndCron(t *testing.T) {
	handlers := Handlers(NewDecisionAuditJob(&recordingNotifier{}, nil, nil), nil)
	require.Len(t, handlers, 1)
	require.Equal(t, TaskDecisionAudit, handlers[0].Type)

	cron := DefaultCron()
	require.Len(t, cron, 1)
	require.Equal(t, "0 * * * *", cron[0].Spec)
	require.Equal(t, TaskAssignmentExpirySweep, cron[0].Task.Type())
}

type stubInspector struct {
	info map[string]*asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	if info, ok := s.info[queue]; ok {
		return info, nil
	}
	return nil, asynq.ErrQueueNotFound
}

func TestHealthEndpoint(t *testing.T) {
	serve := func(h *Handler) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		h.MountRoutes(r)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		return rr
	}

	rr := serve(NewHandler(nil, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"queue":"audit"`)

	h := NewHandler(nil, nil)
	h.inspector = stubInspector{info: map[string]*asynq.QueueInfo{QueueAudit: {Queue: QueueAudit, Pending: 12}}}
	rr = serve(h)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Queues []QueueHealth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Queues, 2)
	require.Equal(t, 12, body.Queues[0].Pending)
	require.Equal(t, 0, body.Queues[1].Pending)

	h.inspector = stubInspector{err: errors.New("redis down")}
	require.Equal(t, http.StatusServiceUnavailable, serve(h).Code)
}
