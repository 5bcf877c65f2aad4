// Package users reads the user directory that assignments refer to. Accounts
// are provisioned elsewhere; this package never writes them.
package users

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no user has the requested ID.
var ErrNotFound = errors.New("user not found")

// User represents a directory entry.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
