// Package errs defines the error taxonomy shared by the realtime core and the
// REST layer. Callers classify failures with errors.Is against the sentinel
// values below; HTTPStatus maps them to response codes.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation covers missing or malformed caller input, such as empty
	// message content or a self-chat attempt. Not retried.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound covers absent chats/messages and callers that are not
	// participants of the target chat.
	ErrNotFound = errors.New("not found")

	// ErrForbidden covers operations the caller is not allowed to perform,
	// such as deleting another user's message.
	ErrForbidden = errors.New("forbidden")

	// ErrTransient covers failed persistence calls. The client is expected
	// to retry the operation.
	ErrTransient = errors.New("transient storage error")
)

// Validationf returns a formatted error wrapping ErrValidation.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

// NotFoundf returns a formatted error wrapping ErrNotFound.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Forbiddenf returns a formatted error wrapping ErrForbidden.
func Forbiddenf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrForbidden)...)
}

// Transientf wraps a persistence failure so callers can distinguish it from
// input errors.
func Transientf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrTransient)...)
}

// HTTPStatus maps an error to the HTTP status code the REST layer should
// respond with. Unclassified errors are treated as internal.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
