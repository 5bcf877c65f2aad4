// Package pgstore implements rbac.Store on PostgreSQL.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

//go:embed schema.sql
var schemaSQL string

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Store is the PostgreSQL backed rbac.Store.
type Store struct {
	db   dbtx
	pool *pgxpool.Pool
	inTx bool
}

var _ rbac.Store = (*Store)(nil)

// New constructs a Store over pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool, pool: pool}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("rbac/pgstore: migrate: %w", err)
	}
	return nil
}

// WithTx runs fn in a RepeatableRead transaction. Nested calls reuse the
// outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, rbac.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Store{db: tx, pool: s.pool, inTx: true})
	})
}

// mapError translates driver errors into rbac sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return rbac.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", rbac.ErrDuplicateCode, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", rbac.ErrNotFound, pgErr.ConstraintName)
		case "23514":
			return fmt.Errorf("%w: %s", rbac.ErrValidation, pgErr.ConstraintName)
		}
	}
	return err
}
