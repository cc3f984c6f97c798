// Package apperror defines the failure taxonomy shared by the auth services and the HTTP
// boundary that renders failures into responses.
package apperror

import (
	"errors"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	Internal Kind = iota
	InvalidInput
	Conflict
	NotFound
	Unauthorized
	TooManyRequests
)

// String returns a stable name for logging.
func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not_found"
	case Unauthorized:
		return "unauthorized"
	case TooManyRequests:
		return "too_many_requests"
	default:
		return "internal"
	}
}

// Status maps the kind onto an HTTP status code.
func (k Kind) Status() int {
	switch k {
	case InvalidInput:
		return http.StatusBadRequest
	case Conflict:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	case Unauthorized:
		return http.StatusUnauthorized
	case TooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure with a client-safe message. Err keeps the underlying cause
// for logs and errors.Is checks; it is never rendered.
type Error struct {
	Kind    Kind
	Message string
	Errors  []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// WithErrors attaches per-field details.
func (e *Error) WithErrors(details ...string) *Error {
	e.Errors = append(e.Errors, details...)
	return e
}

// From extracts a classified error. Unclassified errors are reported as Internal with a
// generic message so causes never leak to clients.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return &Error{Kind: Internal, Message: "something went wrong", Err: err}
}

// KindOf reports the kind of err, Internal when unclassified.
func KindOf(err error) Kind {
	return From(err).Kind
}
