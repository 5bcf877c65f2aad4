package audit

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const decisionWindowSQL = `
SELECT occurred_at,
       entity_id,
       COALESCE(actor_id, 0),
       action,
       COALESCE(meta->>'resource', ''),
       COALESCE(meta->>'action', ''),
       COALESCE(meta->>'reason', ''),
       COALESCE(meta->>'permission_code', ''),
       COALESCE(meta->>'scope', ''),
       (meta->>'target_department_id')::bigint,
       (meta->>'target_owner_id')::bigint
FROM audit_logs
WHERE entity = 'rbac_decision'
  AND ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3::bigint IS NULL OR actor_id = $3)
  AND ($4::text IS NULL OR meta->>'resource' = $4)
  AND ($5::text IS NULL OR action = $5)
ORDER BY occurred_at DESC, id DESC
OFFSET $6 LIMIT $7`

// PgRepository reads decisions from audit_logs.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository constructs the Postgres-backed repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// DecisionWindow runs the filtered timeline query.
func (r *PgRepository) DecisionWindow(ctx context.Context, q Query) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, decisionWindowSQL,
		q.FromAt, q.ToAt, q.ActorID, q.Resource, q.Action, q.Offset, q.Limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanDecision)
}

func scanDecision(row pgx.CollectableRow) (TimelineRow, error) {
	var (
		out     TimelineRow
		stored  string
		deptID  pgtype.Int8
		ownerID pgtype.Int8
	)
	if err := row.Scan(&out.At, &out.EventID, &out.UserID, &stored, &out.Resource, &out.Action,
		&out.Reason, &out.PermissionCode, &out.Scope, &deptID, &ownerID); err != nil {
		return TimelineRow{}, err
	}
	out.Allowed = stored == ActionAllow
	if deptID.Valid {
		v := deptID.Int64
		out.TargetDepartmentID = &v
	}
	if ownerID.Valid {
		v := ownerID.Int64
		out.TargetOwnerID = &v
	}
	return out, nil
}
