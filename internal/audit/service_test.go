package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

type stubRepo struct {
	rows []TimelineRow
	last Query
	err  error
}

func (s *stubRepo) DecisionWindow(_ context.Context, q Query) ([]TimelineRow, error) {
	s.last = q
	if s.err != nil {
		return nil, s.err
	}
	rows := s.rows
	if int(q.Limit) < len(rows) {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

func decisionRows(n int) []TimelineRow {
	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	rows := make([]TimelineRow, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, TimelineRow{
			At:       base.Add(-time.Duration(i) * time.Hour),
			EventID:  uuid.NewString(),
			UserID:   int64(i + 1),
			Resource: "EXPENSE_CLAIM",
			Action:   "APPROVE",
			Allowed:  i%2 == 0,
		})
	}
	return rows
}

func TestTimelinePaging(t *testing.T) {
	repo := &stubRepo{rows: decisionRows(3)}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
	require.Zero(t, result.Paging.PrevPage)
	require.Equal(t, int32(3), repo.last.Limit)
	require.Equal(t, int32(0), repo.last.Offset)

	_, err = svc.Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 500})
	require.NoError(t, err)
	require.Equal(t, int32(maxPageSize+1), repo.last.Limit)
	require.Equal(t, int32(2*maxPageSize), repo.last.Offset)
}

func TestTimelineBuildsQuery(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)
	user := int64(7)
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)

	result, err := svc.Timeline(context.Background(), TimelineFilters{
		From: from, To: to, UserID: &user, Resource: " expense_claim ", Outcome: OutcomeDenied,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Rows)
	require.Equal(t, defaultPageSize, result.Paging.PageSize)

	q := repo.last
	require.True(t, q.FromAt.Valid)
	require.Equal(t, from, q.FromAt.Time)
	require.Equal(t, to, q.ToAt.Time)
	require.Equal(t, int64(7), q.ActorID.Int64)
	require.Equal(t, "EXPENSE_CLAIM", q.Resource.String)
	require.Equal(t, ActionDeny, q.Action.String)

	_, err = svc.Timeline(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	require.False(t, repo.last.FromAt.Valid)
	require.False(t, repo.last.ActorID.Valid)
	require.False(t, repo.last.Resource.Valid)
	require.False(t, repo.last.Action.Valid)
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	svc := NewService(&stubRepo{})
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.Timeline(context.Background(), TimelineFilters{Outcome: "maybe"})
	require.ErrorIs(t, err, ErrInvalidFilter)
	_, err = svc.Export(context.Background(), TimelineFilters{From: day, To: day})
	require.ErrorIs(t, err, ErrInvalidFilter)

	_, err = NewService(nil).Timeline(context.Background(), TimelineFilters{})
	require.Error(t, err)
}

func TestExportUsesCap(t *testing.T) {
	boom := errors.New("db down")
	repo := &stubRepo{rows: decisionRows(4)}
	rows, err := NewService(repo).Export(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	require.Len(t, rows, 4)
	require.Equal(t, int32(maxExportRows), repo.last.Limit)

	repo.err = boom
	_, err = NewService(repo).Export(context.Background(), TimelineFilters{})
	require.ErrorIs(t, err, boom)
}

func TestWriteCSV(t *testing.T) {
	dept := int64(4)
	rows := []TimelineRow{{
		At:                 time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
		EventID:            "e-1",
		UserID:             9,
		Resource:           "EXPENSE_CLAIM",
		Action:             "APPROVE",
		Reason:             "no permission for expense_claim:approve",
		TargetDepartmentID: &dept,
	}}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, csvHeader, records[0])
	require.Equal(t, []string{
		"2025-03-10T10:00:00Z", "e-1", "9", "EXPENSE_CLAIM", "APPROVE", "denied",
		"no permission for expense_claim:approve", "", "", "4", "",
	}, records[1])
}

type sinkFunc func(context.Context, shared.AuditLog) error

func (f sinkFunc) Record(ctx context.Context, log shared.AuditLog) error { return f(ctx, log) }

func TestRecorderMapsEvent(t *testing.T) {
	var got shared.AuditLog
	rec := NewRecorder(sinkFunc(func(_ context.Context, log shared.AuditLog) error {
		got = log
		return nil
	}))
	owner := int64(3)
	event := rbac.DecisionEvent{
		ID:             uuid.New(),
		UserID:         5,
		Resource:       rbac.ResourceExpenseClaim,
		Action:         rbac.ActionUpdate,
		TargetOwnerID:  &owner,
		Reason:         rbac.ReasonOwnScope,
		PermissionCode: "expense_claim:update:own",
		Scope:          rbac.ScopeOwn,
		At:             time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, rec.NotifyDecision(context.Background(), event))

	require.Equal(t, ActionDeny, got.Action)
	require.Equal(t, EntityDecision, got.Entity)
	require.Equal(t, event.ID.String(), got.EntityID)
	require.Equal(t, int64(5), *got.ActorID)
	require.Equal(t, event.At, got.At)
	require.Equal(t, map[string]any{
		"resource":        "EXPENSE_CLAIM",
		"action":          "UPDATE",
		"reason":          rbac.ReasonOwnScope,
		"permission_code": "expense_claim:update:own",
		"scope":           "OWN",
		"target_owner_id": int64(3),
	}, got.Meta)

	event.Allowed = true
	require.Equal(t, ActionAllow, EntryFor(event).Action)
}
