// Package apperr defines the error taxonomy shared by the lending core and its transports.
//
// Every error carries a human-readable message that is surfaced verbatim to callers
// and unwraps to one of the kind sentinels below, so callers can branch with errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrOutOfStock    = errors.New("out of stock")
	ErrDuplicateLoan = errors.New("duplicate loan")
	ErrLimitExceeded = errors.New("limit exceeded")
	ErrConflict      = errors.New("conflict")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
)

// Error is a classified, caller-facing error.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newf(kind error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) error {
	return newf(ErrValidation, format, args...)
}

func NotFound(format string, args ...interface{}) error {
	return newf(ErrNotFound, format, args...)
}

func OutOfStock(format string, args ...interface{}) error {
	return newf(ErrOutOfStock, format, args...)
}

func DuplicateLoan(format string, args ...interface{}) error {
	return newf(ErrDuplicateLoan, format, args...)
}

func LimitExceeded(format string, args ...interface{}) error {
	return newf(ErrLimitExceeded, format, args...)
}

func Conflict(format string, args ...interface{}) error {
	return newf(ErrConflict, format, args...)
}

func Unauthorized(format string, args ...interface{}) error {
	return newf(ErrUnauthorized, format, args...)
}

func Forbidden(format string, args ...interface{}) error {
	return newf(ErrForbidden, format, args...)
}

// Message returns the caller-facing message of a classified error,
// or fallback for anything unclassified.
func Message(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return fallback
}

// Reason returns a short stable label for the error kind, used in metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, ErrDuplicateLoan):
		return "duplicate_loan"
	case errors.Is(err, ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "internal"
	}
}

// HTTPStatus maps an error to the response status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrOutOfStock),
		errors.Is(err, ErrDuplicateLoan),
		errors.Is(err, ErrLimitExceeded),
		errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
