// Package apperr defines the error taxonomy surfaced by the HTTP API.
//
// Use errors.Is to classify errors in calling code. Storage failures are
// wrapped as ErrDatabase with the cause preserved for logging; the cause is
// never sent verbatim to clients.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the service layer.
var (
	// ErrNotFound indicates the entity is absent or not visible to the
	// caller's tenant. Wrong-tenant and missing rows are indistinguishable
	// on purpose.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState indicates an illegal state-machine transition, such
	// as retrying a running job or resolving a resolved alert.
	ErrInvalidState = errors.New("invalid state")

	// ErrValidation indicates a malformed request, filter, or range.
	ErrValidation = errors.New("validation error")

	// ErrDatabase indicates a storage or transport failure.
	ErrDatabase = errors.New("database error")

	// ErrForbidden indicates the principal lacks a required role.
	ErrForbidden = errors.New("forbidden")
)

// Validationf wraps ErrValidation with a caller-facing message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// Database wraps a storage failure so callers can classify it without seeing
// driver internals. The wrapped cause stays available for logging.
func Database(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDatabase, op, err)
}

// Code returns the stable machine-readable code for err.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrDatabase):
		return "database_error"
	default:
		return "internal_error"
	}
}

// HTTPStatus maps err onto an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
