package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the routing engine.
type ErrorKind string

const (
	ErrMalformedInput        ErrorKind = "MALFORMED_INPUT"
	ErrProviderUnavailable   ErrorKind = "PROVIDER_UNAVAILABLE"
	ErrAllProvidersExhausted ErrorKind = "ALL_PROVIDERS_EXHAUSTED"
	ErrDimensionMismatch     ErrorKind = "DIMENSION_MISMATCH"
	ErrValidationFailure     ErrorKind = "VALIDATION_FAILURE"
)

// Error is a typed error carrying its taxonomy kind and an optional cause.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a typed error without an underlying cause.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError builds a typed error wrapping an underlying cause.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err (or any error it wraps) carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the taxonomy kind of err, or the empty string when err is
// not a typed engine error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
