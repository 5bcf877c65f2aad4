package shared

import (
	"context"
	"errors"
)

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// IdempotencyStore persists processed keys.
type IdempotencyStore struct {
	db execer
}

// NewIdempotencyStore constructs the store. Pass a pgx.Tx to claim a key in
// the same transaction as the work it guards.
func NewIdempotencyStore(db execer) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// CheckAndInsert claims key within module. ErrIdempotencyConflict means the
// key was claimed before.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil || s.db == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO idempotency_keys (key, module) VALUES ($1, $2) ON CONFLICT (key, module) DO NOTHING`,
		key, module)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}
