// Package jobmetrics instruments the authz worker's task handlers.
package jobmetrics

import (
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes recorded on odyssey_authz_worker_runs_total.
const (
	StatusSuccess   = "success"
	StatusFailure   = "failure"
	StatusDiscarded = "discarded"
)

// Metrics holds the worker collectors.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	swept    prometheus.Counter
	lastRun  *prometheus.GaugeVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the worker metrics. A nil registerer falls back to the
// process-wide default, registered once.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker times a single task run.
type Tracker struct {
	metrics *Metrics
	task    string
	start   time.Time
}

// Track starts timing a run of the named task type.
func (m *Metrics) Track(task string) *Tracker {
	return &Tracker{metrics: m, task: task, start: time.Now()}
}

// End records the run outcome and returns err unchanged. Errors wrapping
// asynq.SkipRetry count as discarded rather than failed.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.task == "" {
		return err
	}
	status := StatusSuccess
	switch {
	case err == nil:
		t.metrics.lastRun.WithLabelValues(t.task).SetToCurrentTime()
	case errors.Is(err, asynq.SkipRetry):
		status = StatusDiscarded
	default:
		status = StatusFailure
	}
	t.metrics.runs.WithLabelValues(t.task, status).Inc()
	t.metrics.duration.WithLabelValues(t.task).Observe(time.Since(t.start).Seconds())
	return err
}

// AddSwept counts assignments deactivated by the expiry sweep.
func (m *Metrics) AddSwept(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.swept.Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "odyssey_authz",
		Subsystem: "worker",
		Name:      "runs_total",
		Help:      "Task runs partitioned by task type and outcome.",
	}, []string{"task", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "odyssey_authz",
		Subsystem: "worker",
		Name:      "run_duration_seconds",
		Help:      "Task run duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"task"})
	lastRun := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "odyssey_authz",
		Subsystem: "worker",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful run per task type.",
	}, []string{"task"})
	swept := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "odyssey_authz",
		Name:      "assignments_expired_total",
		Help:      "Role assignments deactivated by the expiry sweep.",
	})
	registerer.MustRegister(runs, duration, lastRun, swept)
	return &Metrics{runs: runs, duration: duration, swept: swept, lastRun: lastRun}
}
