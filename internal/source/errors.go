package source

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel classifications for source-side REST failures. The monitor and
// recovery loops branch on these: 403/404 blacklist, everything else retries.
var (
	ErrNoAccess = errors.New("source: access denied")
	ErrNotFound = errors.New("source: not found")
)

// StatusError wraps a non-2xx REST response.
type StatusError struct {
	Status int
	Path   string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("source: %s returned %d", e.Path, e.Status)
}

// Unwrap maps the denial statuses onto their sentinels so callers can use
// errors.Is without inspecting status codes.
func (e *StatusError) Unwrap() error {
	switch e.Status {
	case http.StatusForbidden:
		return ErrNoAccess
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// IsDenied reports whether err is an access classification (403 or 404)
// rather than a transient failure.
func IsDenied(err error) bool {
	return errors.Is(err, ErrNoAccess) || errors.Is(err, ErrNotFound)
}
