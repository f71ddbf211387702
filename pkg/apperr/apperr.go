package apperr

import (
	"errors"
	"net/http"
)

// Kind is the closed set of domain-facing error categories. The HTTP layer
// maps a kind to a status code through statusByKind and nothing else; no
// handler should ever inspect error messages.
type Kind string

const (
	KindValidation   Kind = "ValidationError"
	KindUnauthorized Kind = "UnauthorizedError"
	KindNotFound     Kind = "NotFoundError"
	KindConflict     Kind = "ConflictError"
	KindDomain       Kind = "DomainError"
	KindInternal     Kind = "InternalError"
)

var statusByKind = map[Kind]int{
	KindValidation:   http.StatusBadRequest,
	KindUnauthorized: http.StatusUnauthorized,
	KindNotFound:     http.StatusNotFound,
	KindConflict:     http.StatusConflict,
	KindDomain:       http.StatusUnprocessableEntity,
	KindInternal:     http.StatusInternalServerError,
}

// Error carries a machine-checkable kind, a human message, and structured
// detail for the boundary layer. Details must be JSON-serializable.
type Error struct {
	Kind    Kind
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// StatusCode returns the HTTP status for the error's kind.
func (e *Error) StatusCode() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func newError(kind Kind, msg string, details any) *Error {
	return &Error{Kind: kind, Message: msg, Details: details}
}

func Validation(msg string, details any) *Error { return newError(KindValidation, msg, details) }
func Unauthorized(msg string) *Error            { return newError(KindUnauthorized, msg, nil) }
func NotFound(msg string) *Error                { return newError(KindNotFound, msg, nil) }
func Conflict(msg string, details any) *Error   { return newError(KindConflict, msg, details) }
func Domain(msg string, details any) *Error     { return newError(KindDomain, msg, details) }

// Internal wraps an unexpected lower-layer failure. The cause is preserved
// for logs but never rendered to clients.
func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: msg, cause: cause}
}

// From extracts an *Error from err's chain, if any.
func From(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	if e, ok := From(err); ok {
		return e.Kind == kind
	}
	return false
}

// StatusCode resolves any error to an HTTP status; unclassified errors are 500.
func StatusCode(err error) int {
	if e, ok := From(err); ok {
		return e.StatusCode()
	}
	return http.StatusInternalServerError
}
