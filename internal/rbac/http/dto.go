// Package rbachttp exposes the RBAC core as a JSON API.
package rbachttp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

var validate = validator.New()

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", rbac.ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", rbac.ErrValidation, strings.Join(msgs, ", "))
}

type batchRequest struct {
	UserID int64        `json:"user_id" validate:"required,gt=0"`
	Checks []rbac.Check `json:"checks" validate:"required,min=1,max=100,dive"`
}

type batchResponse struct {
	UserID  int64           `json:"user_id"`
	Results map[string]bool `json:"results"`
}

type effectiveResponse struct {
	rbac.EffectivePermissions
	Codes []string `json:"codes"`
}

type hasRoleResponse struct {
	UserID       int64  `json:"user_id"`
	Role         string `json:"role"`
	DepartmentID *int64 `json:"department_id,omitempty"`
	HasRole      bool   `json:"has_role"`
}

type setPermissionsRequest struct {
	PermissionIDs []int64 `json:"permission_ids"`
}

type unassignRequest struct {
	UserID       int64  `json:"user_id" validate:"required,gt=0"`
	RoleID       int64  `json:"role_id" validate:"required,gt=0"`
	DepartmentID *int64 `json:"department_id" validate:"omitempty,gt=0"`
}
