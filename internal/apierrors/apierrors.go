// Package apierrors defines the typed error taxonomy of spec.md §7. Every
// component returns one of these typed errors rather than raw driver
// errors or control-flow exceptions; the (out-of-scope) HTTP boundary
// maps a Code to a status, and the job runner maps Code to retry/fatal
// (spec.md §4.3, §7).
package apierrors

import (
	"errors"
	"fmt"
)

// Code is one of the error kinds spec.md §7 names.
type Code string

const (
	CodeValidation  Code = "VALIDATION_ERROR"
	CodeNotFound    Code = "NOT_FOUND"
	CodeConflict    Code = "CONFLICT"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden   Code = "FORBIDDEN"
	CodeRateLimited Code = "RATE_LIMITED"
	CodeUpstream    Code = "UPSTREAM_ERROR"
	CodeInternal    Code = "INTERNAL_ERROR"
)

// Error is the typed error every core component returns. Details holds
// validation issues or other structured context; it is never stack
// traces, SQL text, or LLM prompts (spec.md §7 "never leak internal
// details").
type Error struct {
	Code    Code
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an *Error that wraps cause, preserving it for
// errors.Is/As while keeping the user-facing Message separate from the
// internal cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetails attaches structured details (e.g. validation issues) and
// returns the same *Error for chaining.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// As extracts an *Error from err, following Unwrap chains.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the Code of err if it is (or wraps) an *Error, and
// CodeInternal otherwise — the safe default for anything unexpected.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the job runner should retry rather than
// fail a job permanently (spec.md §4.3, §7): UPSTREAM_ERROR and errors
// with no typed Code (bare driver/network errors) are transient; every
// other Code is deterministic and therefore fatal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	e, ok := As(err)
	if !ok {
		return true
	}
	return e.Code == CodeUpstream
}
