// Package apperr defines the error taxonomy shared by the domain services.
//
// Every failure surfaced by a service is one of:
//   - *ValidationError: the caller sent something it can correct.
//   - *NotFoundError: the referenced entity does not exist.
//   - *ConflictError: a concurrent writer won a race; the call may be retried.
//
// Anything else is an internal failure and must not leak details to clients.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ValidationError reports a caller-correctable input problem.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NotFoundError reports that an entity referenced by id or code does not exist.
type NotFoundError struct {
	Entity string
}

func (e *NotFoundError) Error() string {
	return e.Entity + " not found"
}

// ConflictError reports a lost race against a concurrent transaction.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// Validation returns a *ValidationError with the given message.
func Validation(msg string) error {
	return &ValidationError{Message: msg}
}

// Validationf returns a *ValidationError with a formatted message.
func Validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Conflict returns a *ConflictError with the given message.
func Conflict(msg string) error {
	return &ConflictError{Message: msg}
}

// IsValidation reports whether err wraps a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var v *NotFoundError
	return errors.As(err, &v)
}

// IsConflict reports whether err wraps a *ConflictError.
func IsConflict(err error) bool {
	var v *ConflictError
	return errors.As(err, &v)
}
