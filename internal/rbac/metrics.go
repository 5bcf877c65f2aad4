package rbac

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// otherResource labels decisions on resources outside the core set.
const otherResource = "other"

// Metrics exposes Prometheus collectors for access decisions.
type Metrics struct {
	decisions *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	dropped   prometheus.Counter
	labels    map[Resource]string
}

// NewMetrics registers the decision metrics against registerer. A nil
// registerer uses the default Prometheus registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_rbac_decisions_total",
		Help: "Access decisions partitioned by resource, action and outcome.",
	}, []string{"resource", "action", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_rbac_check_duration_seconds",
		Help:    "Duration in seconds of permission checks including data gathering.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_rbac_audit_dropped_total",
		Help: "Decision audit events dropped because the buffer was full.",
	})
	registerer.MustRegister(decisions, duration, dropped)
	labels := make(map[Resource]string)
	for _, r := range CoreResources() {
		labels[r] = strings.ToLower(string(r))
	}
	return &Metrics{decisions: decisions, duration: duration, dropped: dropped, labels: labels}
}

// ObserveDecision records one decision. Resources outside CoreResources share
// the "other" label.
func (m *Metrics) ObserveDecision(resource Resource, action Action, allowed bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	label, ok := m.labels[normalizeResource(resource)]
	if !ok {
		label = otherResource
	}
	m.decisions.WithLabelValues(label, strings.ToLower(string(action)), outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// NotificationDropped counts an audit event lost to back-pressure.
func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
