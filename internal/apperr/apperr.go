// Package apperr defines the error kinds a pipeline request can end with.
// Every failure crossing a package boundary is classified into exactly one
// kind; transports map kinds to status codes without inspecting messages.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes a terminal pipeline failure.
type Kind string

const (
	KindConnection        Kind = "connection_error"
	KindIntrospection     Kind = "introspection_error"
	KindSynthesis         Kind = "synthesis_error"
	KindUnsafeStatement   Kind = "unsafe_statement"
	KindExecution         Kind = "execution_error"
	KindExecutionTimeout  Kind = "execution_timeout"
	KindResourceExhausted Kind = "resource_exhausted"
	KindInvalidRequest    Kind = "invalid_request"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal"
)

// Error is a classified failure. Rule is set only for unsafe statements and
// names the validator rule that rejected it.
type Error struct {
	Kind    Kind
	Message string
	Rule    string
	Cause   error
}

func (e *Error) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("%s: %s (rule: %s)", e.Kind, e.Message, e.Rule)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. The cause's text is not part of Message;
// callers put whatever they want exposed into message.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: err}
}

// Unsafe reports a statement rejected by the validator.
func Unsafe(rule, message string) *Error {
	return &Error{Kind: KindUnsafeStatement, Rule: rule, Message: message}
}

// IsKind reports whether err is a classified error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// RuleOf returns the validator rule carried by err, if any.
func RuleOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Rule
	}
	return ""
}

// HTTPStatus maps a kind to the status code transports respond with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindConnection, KindIntrospection:
		return http.StatusBadGateway
	case KindSynthesis, KindUnsafeStatement:
		return http.StatusUnprocessableEntity
	case KindExecution, KindInvalidRequest:
		return http.StatusBadRequest
	case KindExecutionTimeout:
		return http.StatusGatewayTimeout
	case KindResourceExhausted:
		return http.StatusServiceUnavailable
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
