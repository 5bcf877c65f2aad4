package departments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Service manages the department tree.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// List returns a page of departments and the unpaged total.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Department, int, error) {
	filters.Search = strings.TrimSpace(filters.Search)
	return s.repo.List(ctx, filters)
}

// Get fetches one department.
func (s *Service) Get(ctx context.Context, id int64) (Department, error) {
	if id <= 0 {
		return Department{}, fmt.Errorf("%w: invalid department id", ErrValidation)
	}
	return s.repo.Get(ctx, id)
}

// Exists reports whether the department is known.
func (s *Service) Exists(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, nil
	}
	return s.repo.Exists(ctx, id)
}

// Create adds a department under an optional parent.
func (s *Service) Create(ctx context.Context, in Input) (Department, error) {
	in, err := normalize(in)
	if err != nil {
		return Department{}, err
	}
	if in.ParentID != nil {
		if err := s.requireParent(ctx, *in.ParentID); err != nil {
			return Department{}, err
		}
	}
	return s.repo.Create(ctx, Department{Code: in.Code, Name: in.Name, ParentID: in.ParentID, CreatedAt: s.now()})
}

// Update edits a department. Moving it under one of its own descendants is
// rejected.
func (s *Service) Update(ctx context.Context, id int64, in Input) (Department, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return Department{}, err
	}
	in, err = normalize(in)
	if err != nil {
		return Department{}, err
	}
	if in.ParentID != nil {
		if err := s.checkAncestry(ctx, id, *in.ParentID); err != nil {
			return Department{}, err
		}
	}
	current.Code = in.Code
	current.Name = in.Name
	current.ParentID = in.ParentID
	current.UpdatedAt = s.now()
	return s.repo.Update(ctx, current)
}

func (s *Service) requireParent(ctx context.Context, parentID int64) error {
	ok, err := s.repo.Exists(ctx, parentID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: parent %d does not exist", ErrInvalidParent, parentID)
	}
	return nil
}

func (s *Service) checkAncestry(ctx context.Context, id, parentID int64) error {
	seen := map[int64]struct{}{id: {}}
	next := &parentID
	for next != nil {
		if _, loop := seen[*next]; loop {
			return fmt.Errorf("%w: parent %d would create a cycle", ErrInvalidParent, parentID)
		}
		seen[*next] = struct{}{}
		ancestor, err := s.repo.Get(ctx, *next)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: parent %d does not exist", ErrInvalidParent, *next)
			}
			return err
		}
		next = ancestor.ParentID
	}
	return nil
}

func normalize(in Input) (Input, error) {
	in.Code = strings.ToUpper(strings.TrimSpace(in.Code))
	in.Name = strings.TrimSpace(in.Name)
	if in.Code == "" {
		return in, fmt.Errorf("%w: department code is required", ErrValidation)
	}
	if in.Name == "" {
		return in, fmt.Errorf("%w: department name is required", ErrValidation)
	}
	if in.ParentID != nil && *in.ParentID <= 0 {
		return in, fmt.Errorf("%w: invalid parent id", ErrValidation)
	}
	return in, nil
}
