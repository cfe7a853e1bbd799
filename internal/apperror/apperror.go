// Package apperror defines the error kinds shared by every layer of the API.
//
// Services return *AppError values wrapping one of the sentinels below.
// The HTTP layer maps the sentinel to a status code with errors.Is and
// shows Message to the client. Anything that is not an *AppError is
// treated as an internal error and its text is never sent to the client.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("bad request")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrUpstream          = errors.New("upstream failure")
)

type AppError struct {
	Err     error  // one of the sentinels above
	Message string // client-safe message
	Field   string // optional: input field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports a uniqueness violation: duplicate email, provider id
// already linked elsewhere, course already owned.
func Conflict(message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
	}
}

// Unauthenticated is returned for missing, malformed, tampered or expired
// credentials. The message must not say which of those it was.
func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// SignatureMismatch is the single, generic payment verification failure.
func SignatureMismatch() *AppError {
	return &AppError{
		Err:     ErrSignatureMismatch,
		Message: "payment verification failed",
	}
}

// Upstream wraps a failure of an external dependency (mail server,
// payment provider) or a partially applied operation that needs support.
func Upstream(message string) *AppError {
	return &AppError{
		Err:     ErrUpstream,
		Message: message,
	}
}
