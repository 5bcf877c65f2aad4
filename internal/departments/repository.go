package departments

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists departments.
type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Department, int, error)
	Get(ctx context.Context, id int64) (Department, error)
	Exists(ctx context.Context, id int64) (bool, error)
	Create(ctx context.Context, dept Department) (Department, error)
	Update(ctx context.Context, dept Department) (Department, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the Postgres repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const departmentColumns = `id, code, name, parent_id, created_at, updated_at`

func scanDepartment(row pgx.Row) (Department, error) {
	var d Department
	err := row.Scan(&d.ID, &d.Code, &d.Name, &d.ParentID, &d.CreatedAt, &d.UpdatedAt)
	return d, mapError(err)
}

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Department, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filters.ParentID != nil {
		args = append(args, *filters.ParentID)
		where += ` AND parent_id = $` + strconv.Itoa(len(args))
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (name ILIKE $` + n + ` OR code ILIKE $` + n + `)`
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM departments`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + departmentColumns + ` FROM departments` + where + ` ORDER BY code`
	if filters.Limit > 0 {
		offset := (filters.Page - 1) * filters.Limit
		if offset < 0 {
			offset = 0
		}
		args = append(args, filters.Limit, offset)
		query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Department
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Department, error) {
	return scanDepartment(r.db.QueryRow(ctx, `SELECT `+departmentColumns+` FROM departments WHERE id = $1`, id))
}

func (r *repository) Exists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM departments WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

func (r *repository) Create(ctx context.Context, dept Department) (Department, error) {
	return scanDepartment(r.db.QueryRow(ctx,
		`INSERT INTO departments (code, name, parent_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4) RETURNING `+departmentColumns,
		dept.Code, dept.Name, dept.ParentID, dept.CreatedAt))
}

func (r *repository) Update(ctx context.Context, dept Department) (Department, error) {
	return scanDepartment(r.db.QueryRow(ctx,
		`UPDATE departments SET code = $2, name = $3, parent_id = $4, updated_at = $5
		 WHERE id = $1 RETURNING `+departmentColumns,
		dept.ID, dept.Code, dept.Name, dept.ParentID, dept.UpdatedAt))
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case "23503", "23514":
			return fmt.Errorf("%w: %s", ErrInvalidParent, pgErr.ConstraintName)
		}
	}
	return err
}
