package rbac

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrDuplicateCode indicates a create collided with an existing code.
	ErrDuplicateCode = errors.New("rbac: duplicate code")
	// ErrSystemProtected blocks deactivation or deletion of system records.
	ErrSystemProtected = errors.New("rbac: system record is protected")
	// ErrInvalidParent indicates a self-referencing or cyclic role parent.
	ErrInvalidParent = errors.New("rbac: invalid parent role")
	// ErrParentNotFound indicates the referenced parent role does not exist.
	ErrParentNotFound = errors.New("rbac: parent role not found")
	// ErrValidation indicates malformed caller input.
	ErrValidation = errors.New("rbac: validation failed")
	// ErrPermissionDenied is matched by DeniedError.
	ErrPermissionDenied = errors.New("rbac: permission denied")
)

// DeniedError is returned by guard-style checks when a decision is a deny.
type DeniedError struct {
	Resource Resource
	Action   Action
	Reason   string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("rbac: permission denied for %s: %s", PermissionCode(e.Resource, e.Action), e.Reason)
}

// Is makes errors.Is(err, ErrPermissionDenied) succeed.
func (e *DeniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}
