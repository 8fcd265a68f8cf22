package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error into the domain taxonomy. Layers below HTTP deal
// only in kinds; the HTTP mapping is a pure function of the kind.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindRangeNotSatisfiable
	KindLocked
	KindDependencyUnavailable
	KindTransient
)

// String returns the kind name for logging
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRangeNotSatisfiable:
		return "range_not_satisfiable"
	case KindLocked:
		return "locked"
	case KindDependencyUnavailable:
		return "dependency_unavailable"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Error is a classified error carrying a stable machine-readable code and
// optional context fields surfaced in the HTTP error envelope.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause
func (e *Error) Unwrap() error {
	return e.Err
}

// With attaches a context field returned in the error envelope
func (e *Error) With(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a classified error
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates a classified error around a cause
func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Validation creates a 400-class error with the standard bad_request code
func Validation(message string) *Error {
	return New(KindValidation, "bad_request", message)
}

// Validationf creates a 400-class error with a formatted message
func Validationf(format string, args ...interface{}) *Error {
	return New(KindValidation, "bad_request", fmt.Sprintf(format, args...))
}

// Unauthorized creates a 401-class error with a coarse reason
func Unauthorized(reason string) *Error {
	return New(KindUnauthorized, "unauthorized", reason)
}

// Forbidden creates a 403-class error
func Forbidden(message string) *Error {
	return New(KindForbidden, "forbidden", message)
}

// NotFound creates a 404-class error
func NotFound(message string) *Error {
	return New(KindNotFound, "not_found", message)
}

// NotFoundf creates a 404-class error with a formatted message
func NotFoundf(format string, args ...interface{}) *Error {
	return New(KindNotFound, "not_found", fmt.Sprintf(format, args...))
}

// Conflict creates a 409-class error
func Conflict(message string) *Error {
	return New(KindConflict, "conflict", message)
}

// Conflictf creates a 409-class error with a formatted message
func Conflictf(format string, args ...interface{}) *Error {
	return New(KindConflict, "conflict", fmt.Sprintf(format, args...))
}

// RangeNotSatisfiable creates a 416-class error
func RangeNotSatisfiable(message string) *Error {
	return New(KindRangeNotSatisfiable, "range_not_satisfiable", message)
}

// Locked creates a 423-class error; callers set a specific code such as
// quarantined_blob
func Locked(code, message string) *Error {
	return New(KindLocked, code, message)
}

// Unavailable creates a 503-class error
func Unavailable(code, message string) *Error {
	return New(KindDependencyUnavailable, code, message)
}

// Transient creates a retryable error
func Transient(message string, err error) *Error {
	return Wrap(KindTransient, "transient", message, err)
}

// Internal wraps an unexpected error
func Internal(err error) *Error {
	return Wrap(KindInternal, "internal", "internal error", err)
}

// KindOf returns the Kind of err, walking the wrap chain. Unclassified
// errors report KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the stable machine code of err, or "internal"
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// AsError extracts the classified error, or nil
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}
