// Package errs defines the error taxonomy shared by the HTTP layer and the
// checkout/webhook pipeline. Handlers map these types to status codes at the
// edge; everything below the edge wraps with %w and stays type-agnostic.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed client input. Always safe to echo back.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// Validation builds a ValidationError from a format string.
func Validation(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// AuthenticationError reports a missing or invalid webhook signature or
// rejected admin credential. The underlying cause is kept for logs only.
type AuthenticationError struct {
	Cause error
}

func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("authentication failed: %v", e.Cause)
	}
	return "authentication failed"
}

func (e *AuthenticationError) Unwrap() error {
	return e.Cause
}

// UpstreamError reports a failed call to the payment processor. Clients get a
// generic message; the wrapped cause goes to the server log.
type UpstreamError struct {
	Cause error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream payment call failed: %v", e.Cause)
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// PersistenceError reports a store read/write failure.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// ConflictError reports a uniqueness violation, e.g. a newsletter email that
// is already on file. Distinguishable from a generic persistence failure.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string {
	return e.Msg
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsAuthentication reports whether err is an AuthenticationError.
func IsAuthentication(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}
