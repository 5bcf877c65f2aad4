package perf

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/odyssey-erp/odyssey-authz/internal/jobs"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/jobs"
)

func TestDecisionMetricsAndAuditThroughput(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc := newFixture(t, rbac.NewMetrics(reg))
	ctx := context.Background()

	for i := 0; i < 40; i++ {
		if _, err := svc.CheckPermission(ctx, sampleRequest(i)); err != nil {
			t.Fatalf("check: %v", err)
		}
	}
	// No role grants USER:DELETE, so every one of these is denied.
	for i := 0; i < 10; i++ {
		req := rbac.CheckRequest{UserID: int64(i + 1), Resource: rbac.ResourceUser, Action: rbac.ActionDelete}
		if _, err := svc.CheckPermission(ctx, req); err != nil {
			t.Fatalf("check: %v", err)
		}
	}

	audit := &flakyRecorder{failEvery: 25}
	job := jobs.NewDecisionAuditJob(audit, nil, jobmetrics.NewMetrics(reg))
	for i := 0; i < 100; i++ {
		payload, err := json.Marshal(rbac.DecisionEvent{ID: uuid.New(), UserID: 1, Resource: rbac.ResourceFile, Action: rbac.ActionRead})
		if err != nil {
			t.Fatal(err)
		}
		_ = job.Handle(ctx, asynq.NewTask(jobs.TaskDecisionAudit, payload))
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	allowed := metricValue(t, families, "odyssey_rbac_decisions_total", map[string]string{"resource": "expense_claim", "action": "approve", "outcome": "allow"})
	if allowed != 40 {
		t.Fatalf("expected 40 allowed approvals, got %f", allowed)
	}
	denied := metricValue(t, families, "odyssey_rbac_decisions_total", map[string]string{"resource": "user", "action": "delete", "outcome": "deny"})
	if denied != 10 {
		t.Fatalf("expected 10 denied deletes, got %f", denied)
	}
	if mean := histogramMean(t, families, "odyssey_rbac_check_duration_seconds", map[string]string{"outcome": "allow"}); mean > 0.02 {
		t.Fatalf("check duration above budget: %f", mean)
	}

	success := metricValue(t, families, "odyssey_authz_worker_runs_total", map[string]string{"task": jobs.TaskDecisionAudit, "status": "success"})
	failure := metricValue(t, families, "odyssey_authz_worker_runs_total", map[string]string{"task": jobs.TaskDecisionAudit, "status": "failure"})
	if success+failure != 100 {
		t.Fatalf("expected 100 audit runs, got %f", success+failure)
	}
	if ratio := success / (success + failure); ratio < 0.9 {
		t.Fatalf("audit success ratio too low: %f", ratio)
	}
}

type flakyRecorder struct {
	failEvery int
	calls     int
}

func (f *flakyRecorder) NotifyDecision(context.Context, rbac.DecisionEvent) error {
	f.calls++
	if f.failEvery > 0 && f.calls%f.failEvery == 0 {
		return errors.New("db timeout")
	}
	return nil
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
		}
	}
	for key := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
