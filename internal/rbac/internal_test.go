package rbac

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type sinkNotifier struct {
	mu     sync.Mutex
	events []DecisionEvent
	panics bool
}

func (s *sinkNotifier) NotifyDecision(_ context.Context, event DecisionEvent) error {
	if s.panics {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *sinkNotifier) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestAsyncNotifierForwards(t *testing.T) {
	sink := &sinkNotifier{}
	n := NewAsyncNotifier(sink, 4, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	require.NoError(t, n.NotifyDecision(ctx, DecisionEvent{UserID: 1}))
	require.NoError(t, n.NotifyDecision(ctx, DecisionEvent{UserID: 2}))
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestAsyncNotifierDropsWhenFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	n := NewAsyncNotifier(&sinkNotifier{}, 1, nil, metrics)

	require.NoError(t, n.NotifyDecision(context.Background(), DecisionEvent{UserID: 1}))
	require.NoError(t, n.NotifyDecision(context.Background(), DecisionEvent{UserID: 2}))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.dropped))

	n.Close()
	n.Close()
	require.NoError(t, n.NotifyDecision(context.Background(), DecisionEvent{UserID: 3}))
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.dropped))
	require.NoError(t, n.Run(context.Background()))
}

func TestAsyncNotifierRecoversFromPanics(t *testing.T) {
	n := NewAsyncNotifier(&sinkNotifier{panics: true}, 2, nil, nil)
	require.NotPanics(t, func() { n.forward(context.Background(), DecisionEvent{UserID: 1}) })
}

func TestMetricsObserveDecision(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	metrics.ObserveDecision(ResourceUser, ActionRead, true, time.Millisecond)
	metrics.ObserveDecision(ResourceUser, ActionRead, false, time.Millisecond)
	metrics.ObserveDecision(ResourceUser, ActionRead, false, time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.decisions.WithLabelValues("user", "read", "allow")))
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.decisions.WithLabelValues("user", "read", "deny")))

	metrics.ObserveDecision("invoice", ActionRead, true, time.Millisecond)
	metrics.ObserveDecision("INVOICE-42", ActionRead, true, time.Millisecond)
	metrics.ObserveDecision("expense_claim", ActionApprove, true, time.Millisecond)
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.decisions.WithLabelValues("other", "read", "allow")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.decisions.WithLabelValues("expense_claim", "approve", "allow")))
	require.Equal(t, 4, testutil.CollectAndCount(metrics.decisions))

	var nilMetrics *Metrics
	require.NotPanics(t, func() {
		nilMetrics.ObserveDecision(ResourceUser, ActionRead, true, 0)
		nilMetrics.NotificationDropped()
	})
}

func TestBroadestTieBreaksOnLowestID(t *testing.T) {
	best := broadest([]Permission{
		{ID: 7, Scope: ScopeDepartment},
		{ID: 3, Scope: ScopeDepartment},
		{ID: 5, Scope: ScopeOwn},
	})
	require.Equal(t, int64(3), best.ID)
}

func TestTitleCase(t *testing.T) {
	require.Equal(t, "Approve Expense Claim (department)", titleCase(ResourceExpenseClaim, ActionApprove, ScopeDepartment))
	require.Equal(t, "Read User", titleCase(ResourceUser, ActionRead, ""))
}
