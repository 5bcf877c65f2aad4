// Package audit persists and queries the access decision trail.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
	maxExportRows   = 10000
)

// ErrInvalidFilter is returned for unusable timeline filters.
var ErrInvalidFilter = errors.New("audit: invalid filter")

// Query is the parameter set passed to the repository. Invalid fields are
// unconstrained.
type Query struct {
	FromAt   pgtype.Timestamptz
	ToAt     pgtype.Timestamptz
	ActorID  pgtype.Int8
	Resource pgtype.Text
	Action   pgtype.Text
	Offset   int32
	Limit    int32
}

// Repository reads decision rows from storage.
type Repository interface {
	DecisionWindow(ctx context.Context, q Query) ([]TimelineRow, error)
}

// Service coordinates decision timeline reads.
type Service struct {
	repo Repository
}

// NewService constructs a timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of decisions, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	q, err := buildQuery(filters)
	if err != nil {
		return Result{}, err
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	q.Offset = int32((page - 1) * pageSize)
	q.Limit = int32(pageSize + 1)
	rows, err := s.repo.DecisionWindow(ctx, q)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns every matching decision up to the export cap.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	q, err := buildQuery(filters)
	if err != nil {
		return nil, err
	}
	q.Limit = maxExportRows
	return s.repo.DecisionWindow(ctx, q)
}

func buildQuery(filters TimelineFilters) (Query, error) {
	if !filters.Outcome.Valid() {
		return Query{}, fmt.Errorf("%w: outcome %q", ErrInvalidFilter, filters.Outcome)
	}
	if !filters.From.IsZero() && !filters.To.IsZero() && !filters.From.Before(filters.To) {
		return Query{}, fmt.Errorf("%w: from must be before to", ErrInvalidFilter)
	}
	q := Query{
		FromAt:   toPgTime(filters.From),
		ToAt:     toPgTime(filters.To),
		Resource: optionalText(strings.ToUpper(filters.Resource)),
		Action:   optionalText(filters.Outcome.storedAction()),
	}
	if filters.UserID != nil {
		q.ActorID = pgtype.Int8{Int64: *filters.UserID, Valid: true}
	}
	return q, nil
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
