package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidResponse is returned when the server answers 200 without the
	// tokens the operation requires.
	ErrInvalidResponse = errors.New("invalid response from auth server")

	// ErrNotAuthenticated is returned by operations that need a stored token.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// APIError is a non-2xx answer from the auth server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("auth server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("auth server returned %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is a 401 or 403 from the server.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
}
