// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// ErrorMapping binds a sentinel error to the problem response it produces.
type ErrorMapping struct {
	Target error
	Status int
	Title  string
}

// ErrMalformedBody is returned by DecodeJSON when the payload cannot be parsed.
var ErrMalformedBody = errors.New("malformed request body")

// RespondError maps err to an RFC7807 response using the first matching
// mapping. Unmatched errors become a 500 without detail.
func RespondError(w http.ResponseWriter, err error, mappings ...ErrorMapping) {
	if errors.Is(err, ErrMalformedBody) {
		Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	for _, m := range mappings {
		if errors.Is(err, m.Target) {
			Problem(w, m.Status, m.Title, err.Error())
			return
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
