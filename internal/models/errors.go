package models

import "errors"

// ErrorKind is the stable failure classification exposed to callers.
// Transport layers map kinds to status codes; the kinds themselves never
// change meaning.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation_failed"
	KindPermission   ErrorKind = "permission_denied"
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "conflict"
	KindPrecondition ErrorKind = "precondition_failed"
	KindInternal     ErrorKind = "internal_error"
)

// Error carries a kind plus a human-readable message. Internal causes are
// wrapped for logs but never shown to callers.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func E(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

// KindOf extracts the kind from an error chain, defaulting to internal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// MessageOf returns the caller-safe message for an error. Unclassified
// errors collapse to a generic message so internals never leak.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "something went wrong"
}
