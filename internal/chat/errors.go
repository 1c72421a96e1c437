package chat

import (
	"errors"
	"fmt"
)

// Kind classifies a chat error for the transport layer.
type Kind int

const (
	KindDependency Kind = iota
	KindUnauthenticated
	KindForbidden
	KindValidation
	KindNotFound
)

// Code is the machine-readable code sent to clients.
func (k Kind) Code() string {
	switch k {
	case KindUnauthenticated:
		return "UNAUTHENTICATED"
	case KindForbidden:
		return "FORBIDDEN"
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindNotFound:
		return "NOT_FOUND"
	default:
		return "INTERNAL_ERROR"
	}
}

// Error is returned by every Service operation that fails.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// ErrForbidden is the error for non-participants, including for
// conversations that do not exist.
var ErrForbidden = &Error{Kind: KindForbidden, Message: "You are not a participant of this conversation"}

// ValidationError reports a bad request field.
func ValidationError(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// NotFoundError reports a missing referenced entity.
func NotFoundError(field, message string) *Error {
	return &Error{Kind: KindNotFound, Field: field, Message: message}
}

// UnauthenticatedError reports a missing or invalid credential.
func UnauthenticatedError(err error) *Error {
	return &Error{Kind: KindUnauthenticated, Message: "Invalid or missing token", Err: err}
}

func dependencyError(message string, err error) *Error {
	return &Error{Kind: KindDependency, Message: message, Err: err}
}

// KindOf returns the kind of err. Errors that are not *Error are dependency
// failures.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindDependency
}

// AsError converts err to *Error, wrapping foreign errors as dependency
// failures.
func AsError(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return dependencyError("Internal server error", err)
}
