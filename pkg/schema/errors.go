package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeUncoveredAction   = "UNCOVERED_ACTION"
	ErrCodeRecognition       = "RECOGNITION_FAILED"
	ErrCodeMalformedDiff     = "MALFORMED_DIFF"
	ErrCodeSearchNotFound    = "SEARCH_NOT_FOUND"
	ErrCodeMalformedDocument = "MALFORMED_DOCUMENT"
	ErrCodeUpstream          = "UPSTREAM_ERROR"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
)

// Error is the structured error type shared by every scenecraft component.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Node    string         `json:"node,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.Node, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether an operation that failed with this error may be retried.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case ErrCodeTimeout, ErrCodeUpstream:
		return true
	default:
		return false
	}
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches the name of the graph node that failed.
func (e *Error) WithNode(node string) *Error {
	e.Node = node
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrCodeExecution when err carries no structured code.
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeExecution
}

// AsError converts any error into an *Error, wrapping unstructured errors
// as EXECUTION_ERROR.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return NewError(ErrCodeExecution, err.Error()).WithCause(err)
}
