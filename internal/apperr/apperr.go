// Package apperr defines the error-kind taxonomy shared across the
// aggregator, notification pipeline, identity service, and proxy edge so
// that HTTP handlers can translate any internal error into the right status
// code without each package re-inventing its own mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind discriminates the error taxonomy surfaced to HTTP callers.
type Kind string

const (
	NotAuthenticated    Kind = "not_authenticated"
	InvalidToken        Kind = "invalid_token"
	Forbidden           Kind = "forbidden"
	NotFound            Kind = "not_found"
	Conflict            Kind = "conflict"
	RateLimited         Kind = "rate_limited"
	UpstreamUnavailable Kind = "upstream_unavailable"
	UpstreamTimeout     Kind = "upstream_timeout"
	Validation          Kind = "validation"
	Internal            Kind = "internal"
)

// statusFor maps each Kind to its HTTP status code.
var statusFor = map[Kind]int{
	NotAuthenticated:    http.StatusUnauthorized,
	InvalidToken:        http.StatusUnauthorized,
	Forbidden:           http.StatusForbidden,
	NotFound:            http.StatusNotFound,
	Conflict:            http.StatusConflict,
	RateLimited:         http.StatusTooManyRequests,
	UpstreamUnavailable: http.StatusServiceUnavailable,
	UpstreamTimeout:     http.StatusGatewayTimeout,
	Validation:          http.StatusBadRequest,
	Internal:            http.StatusInternalServerError,
}

// Error is a typed application error carrying an HTTP-mappable Kind.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter int // seconds; only meaningful for RateLimited
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithRetryAfter attaches a Retry-After hint (seconds) to a RateLimited error.
func (e *Error) WithRetryAfter(seconds int) *Error {
	e.RetryAfter = seconds
	return e
}

// Status returns the HTTP status code for an error, defaulting to 500 for
// errors that do not carry a *Error (or an unrecognized Kind).
func Status(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		if s, ok := statusFor[ae.Kind]; ok {
			return s
		}
	}
	return http.StatusInternalServerError
}

// KindOf extracts the Kind from err, defaulting to Internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}
