// Package apperr defines the error taxonomy shared by the backend and the
// dashboard core, and maps it onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrForbidden = errors.New("forbidden")

	ErrInvalidCredentials = errors.New("Invalid username or password")
	ErrAccountLocked      = errors.New("account is locked due to too many failed login attempts")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrSessionExpired     = errors.New("session expired")
	ErrUnauthenticated    = errors.New("not authenticated")
)

// ValidationError is raised at input boundaries (handlers, dashboard
// actions). Stores never see invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsAuth reports whether err belongs to the authentication family.
func IsAuth(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrAccountLocked) ||
		errors.Is(err, ErrAccountDisabled) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrUnauthenticated)
}

// HTTPStatus picks the response status for err.
func HTTPStatus(err error) int {
	var verr *ValidationError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, ErrAccountLocked):
		return http.StatusLocked
	case IsAuth(err):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Code is the machine readable code carried in error envelopes.
func Code(err error) string {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrAccountLocked):
		return "ACCOUNT_LOCKED"
	case errors.Is(err, ErrInvalidCredentials):
		return "INVALID_CREDENTIALS"
	case errors.Is(err, ErrSessionExpired):
		return "SESSION_EXPIRED"
	case IsAuth(err):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	default:
		return "INTERNAL_ERROR"
	}
}
