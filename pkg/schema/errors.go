package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeCompile           = "COMPILE_ERROR"
	ErrCodeEvaluation        = "EVALUATION_ERROR"
	ErrCodeInterpolation     = "INTERPOLATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeHopLimit          = "HOP_LIMIT_EXCEEDED"
	ErrCodeStore             = "STORE_ERROR"
)

// CanvassError is the structured error type for all engine operations.
type CanvassError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *CanvassError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CanvassError) Unwrap() error {
	return e.Cause
}

// NewError creates a new CanvassError.
func NewError(code, message string) *CanvassError {
	return &CanvassError{Code: code, Message: message}
}

// NewErrorf creates a new CanvassError with a formatted message.
func NewErrorf(code, format string, args ...any) *CanvassError {
	return &CanvassError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches an underlying cause.
func (e *CanvassError) WithCause(err error) *CanvassError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *CanvassError) WithDetails(details map[string]any) *CanvassError {
	e.Details = details
	return e
}

// IsNotFound reports whether err carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	var ce *CanvassError
	return errors.As(err, &ce) && ce.Code == ErrCodeNotFound
}
