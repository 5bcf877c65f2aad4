// Package departments manages the organisational units used for department
// scoped permissions.
package departments

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("department not found")
	ErrDuplicate     = errors.New("department code already exists")
	ErrValidation    = errors.New("validation failed")
	ErrInvalidParent = errors.New("invalid parent department")
)

// Department is one organisational unit. Units form a tree via ParentID.
type Department struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Input carries the editable fields of a department.
type Input struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id"`
}

// ListFilters narrows department listings.
type ListFilters struct {
	Page     int
	Limit    int
	Search   string
	ParentID *int64
}
