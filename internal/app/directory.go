package app

import (
	"context"

	"github.com/odyssey-erp/odyssey-authz/internal/departments"
	"github.com/odyssey-erp/odyssey-authz/internal/users"
)

type userLookup interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

type departmentLookup interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// Directory answers the assignment store's existence checks from the users
// and departments services.
type Directory struct {
	users       userLookup
	departments departmentLookup
}

// NewDirectory joins the two lookups.
func NewDirectory(u *users.Service, d *departments.Service) *Directory {
	return &Directory{users: u, departments: d}
}

// UserExists implements rbac.Directory.
func (d *Directory) UserExists(ctx context.Context, id int64) (bool, error) {
	return d.users.Exists(ctx, id)
}

// DepartmentExists implements rbac.Directory.
func (d *Directory) DepartmentExists(ctx context.Context, id int64) (bool, error) {
	return d.departments.Exists(ctx, id)
}
