package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeNoExecutor        = "NO_EXECUTOR"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeRetryExhausted    = "RETRY_EXHAUSTED"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeStore             = "STORE_ERROR"
)

// ChoreoError is the structured error type for all choreographer operations.
type ChoreoError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Step    string         `json:"step,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ChoreoError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ChoreoError) Unwrap() error {
	return e.Cause
}

// NewError creates a new ChoreoError.
func NewError(code, message string) *ChoreoError {
	return &ChoreoError{Code: code, Message: message}
}

// NewErrorf creates a new ChoreoError with a formatted message.
func NewErrorf(code, format string, args ...any) *ChoreoError {
	return &ChoreoError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step name to the error.
func (e *ChoreoError) WithStep(step string) *ChoreoError {
	e.Step = step
	return e
}

// WithCause attaches an underlying cause.
func (e *ChoreoError) WithCause(err error) *ChoreoError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *ChoreoError) WithDetails(details map[string]any) *ChoreoError {
	e.Details = details
	return e
}

// IsCode reports whether err is (or wraps) a ChoreoError carrying the given code.
func IsCode(err error, code string) bool {
	var ce *ChoreoError
	return errors.As(err, &ce) && ce.Code == code
}
