package rbac

import (
	"context"
	"fmt"
	"time"
)

// AssignInput describes a role assignment. A nil DepartmentID assigns the
// role globally.
type AssignInput struct {
	UserID       int64      `json:"user_id" validate:"required,gt=0"`
	RoleID       int64      `json:"role_id" validate:"required,gt=0"`
	DepartmentID *int64     `json:"department_id" validate:"omitempty,gt=0"`
	ExpiresAt    *time.Time `json:"expires_at"`
	AssignedBy   *int64     `json:"assigned_by"`
}

// AssignmentStore manages user role assignments.
type AssignmentStore struct {
	store     Store
	directory Directory
	hook      changeHook
	now       func() time.Time
}

// NewAssignmentStore constructs an AssignmentStore. directory may be nil, in
// which case user and department existence is left to the store's foreign keys.
func NewAssignmentStore(store Store, directory Directory) *AssignmentStore {
	return &AssignmentStore{store: store, directory: directory, now: time.Now}
}

// Assign creates the assignment, or reactivates and refreshes the existing
// row for the same (user, role, department).
func (s *AssignmentStore) Assign(ctx context.Context, in AssignInput) (Assignment, error) {
	if err := validateStruct(in); err != nil {
		return Assignment{}, err
	}
	now := s.now()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return Assignment{}, fmt.Errorf("%w: expires_at must be in the future", ErrValidation)
	}
	if _, err := s.store.GetRole(ctx, in.RoleID); err != nil {
		return Assignment{}, err
	}
	if s.directory != nil {
		if err := s.requireUser(ctx, in.UserID); err != nil {
			return Assignment{}, err
		}
		if in.DepartmentID != nil {
			if err := s.requireDepartment(ctx, *in.DepartmentID); err != nil {
				return Assignment{}, err
			}
		}
	}
	assignment, err := s.store.UpsertAssignment(ctx, Assignment{
		UserID:       in.UserID,
		RoleID:       in.RoleID,
		DepartmentID: in.DepartmentID,
		AssignedBy:   in.AssignedBy,
		AssignedAt:   now,
		ExpiresAt:    in.ExpiresAt,
		IsActive:     true,
	})
	if err != nil {
		return Assignment{}, err
	}
	s.hook.changed(ctx, "assignment.assign")
	return assignment, nil
}

func (s *AssignmentStore) requireUser(ctx context.Context, id int64) error {
	ok, err := s.directory.UserExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	return nil
}

func (s *AssignmentStore) requireDepartment(ctx context.Context, id int64) error {
	ok, err := s.directory.DepartmentExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: department %d", ErrNotFound, id)
	}
	return nil
}

// Revoke deactivates the matching assignment. Revoking nothing is not an error.
func (s *AssignmentStore) Revoke(ctx context.Context, userID, roleID int64, departmentID *int64) error {
	n, err := s.store.DeactivateAssignments(ctx, userID, roleID, departmentID)
	if err != nil {
		return err
	}
	if n > 0 {
		s.hook.changed(ctx, "assignment.revoke")
	}
	return nil
}

// ActiveAssignments returns the user's effective assignments. With a
// department, rows scoped to it and global rows are both returned.
func (s *AssignmentStore) ActiveAssignments(ctx context.Context, userID int64, departmentID *int64) ([]Assignment, error) {
	now := s.now()
	grants, err := s.store.ListEffectiveGrants(ctx, userID, departmentID, now)
	if err != nil {
		return nil, err
	}
	out := make([]Assignment, 0, len(grants))
	for _, g := range grants {
		if !g.Assignment.EffectiveAt(now) {
			continue
		}
		if departmentID != nil && !g.Assignment.IsGlobal() && !sameDepartment(g.Assignment.DepartmentID, departmentID) {
			continue
		}
		out = append(out, g.Assignment)
	}
	return out, nil
}

// ListForUser returns every assignment row of a user, inactive ones included.
func (s *AssignmentStore) ListForUser(ctx context.Context, userID int64) ([]Assignment, error) {
	return s.store.ListAssignments(ctx, userID)
}

// SweepExpired deactivates assignments whose expiry has passed. Evaluation
// ignores expired rows whether or not they have been swept.
func (s *AssignmentStore) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeactivateExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.hook.changed(ctx, "assignment.sweep")
	}
	return n, nil
}
