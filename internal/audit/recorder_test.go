package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

// fakeTx records statements; only the methods OnceRecorder touches are
// implemented.
type fakeTx struct {
	pgx.Tx
	claimed   map[string]bool
	pending   map[string]bool
	audits    int
	committed int
}

func (f *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	switch {
	case strings.Contains(sql, "idempotency_keys"):
		key := args[0].(string)
		if f.claimed[key] || f.pending[key] {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		f.pending[key] = true
	case strings.Contains(sql, "audit_logs"):
		f.audits++
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeTx) Commit(context.Context) error {
	for k := range f.pending {
		f.claimed[k] = true
	}
	f.pending = map[string]bool{}
	f.committed++
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.pending = map[string]bool{}
	return nil
}

type fakeBeginner struct{ tx *fakeTx }

func (b fakeBeginner) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) { return b.tx, nil }

func TestOnceRecorderSkipsRedeliveredEvents(t *testing.T) {
	tx := &fakeTx{claimed: map[string]bool{}, pending: map[string]bool{}}
	rec := NewOnceRecorder(fakeBeginner{tx: tx})
	event := rbac.DecisionEvent{
		ID:       uuid.New(),
		UserID:   3,
		Resource: rbac.ResourceFile,
		Action:   rbac.ActionRead,
		Allowed:  true,
		At:       time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	require.NoError(t, rec.NotifyDecision(context.Background(), event))
	require.NoError(t, rec.NotifyDecision(context.Background(), event))
	require.Equal(t, 1, tx.audits)
	require.Equal(t, 2, tx.committed)

	event.ID = uuid.New()
	require.NoError(t, rec.NotifyDecision(context.Background(), event))
	require.Equal(t, 2, tx.audits)
}
