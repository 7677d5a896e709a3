package stack

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is returned when a stack answers with a non-2xx status.
type APIError struct {
	// StatusCode is the HTTP status returned by the stack.
	StatusCode int

	// Method and Path identify the failed request.
	Method string
	Path   string

	// Reason is the error message from the response body, if any.
	Reason string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode), e.Reason)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

// IsNotFound returns true if the error is an APIError with status 404.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode == http.StatusNotFound
	}
	return false
}

// IsServerError returns true if the error is an APIError with a 5xx status.
func IsServerError(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode >= 500
	}
	return false
}
