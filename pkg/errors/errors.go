package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Chain construction errors
	ErrorTypeBuild ErrorType = "BUILD"

	// Lifecycle callback errors
	ErrorTypeLifecycle ErrorType = "LIFECYCLE"

	// Terminal dispatch errors
	ErrorTypeDispatch ErrorType = "DISPATCH"

	// General errors
	ErrorTypeValidation ErrorType = "VALIDATION"
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"
	ErrorTypeConflict   ErrorType = "CONFLICT"
	ErrorTypeInternal   ErrorType = "INTERNAL"

	// Infrastructure errors
	ErrorTypeStore       ErrorType = "STORE"
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"
)

// RuntimeError represents a runtime-specific error
type RuntimeError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"-"`
}

// Error implements the error interface
func (e *RuntimeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

// WithCode adds an error code
func (e *RuntimeError) WithCode(code string) *RuntimeError {
	e.Code = code
	return e
}

// WithDetails adds error details
func (e *RuntimeError) WithDetails(details map[string]interface{}) *RuntimeError {
	e.Details = details
	return e
}

// WithCause wraps an underlying error
func (e *RuntimeError) WithCause(err error) *RuntimeError {
	e.Cause = err
	return e
}

// captureStackTrace captures the current stack trace
func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	stack := ""
	for {
		frame, more := frames.Next()
		stack += fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return stack
}

// Constructor functions for common error types

// NewBuildError creates a chain construction error.
// Build errors are fatal for the component type being deployed.
func NewBuildError(componentType, message string) *RuntimeError {
	return &RuntimeError{
		Type:       ErrorTypeBuild,
		Message:    message,
		Details:    map[string]interface{}{"componentType": componentType},
		StackTrace: captureStackTrace(),
	}
}

// NewLifecycleError wraps a lifecycle callback failure with its original cause.
// The owning pool or cache is expected to discard the instance afterwards.
func NewLifecycleError(callback string, err error) *RuntimeError {
	return &RuntimeError{
		Type:       ErrorTypeLifecycle,
		Message:    fmt.Sprintf("lifecycle callback '%s' failed", callback),
		Cause:      err,
		StackTrace: captureStackTrace(),
	}
}

// NewDispatchError creates a terminal dispatch error
func NewDispatchError(operation string, err error) *RuntimeError {
	return &RuntimeError{
		Type:       ErrorTypeDispatch,
		Message:    fmt.Sprintf("dispatch of '%s' failed", operation),
		Cause:      err,
		StackTrace: captureStackTrace(),
	}
}

// NewValidationError creates a validation error
func NewValidationError(message string) *RuntimeError {
	return &RuntimeError{
		Type:       ErrorTypeValidation,
		Message:    message,
		StackTrace: captureStackTrace(),
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *RuntimeError {
	return &RuntimeError{
		Type:       ErrorTypeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		StackTrace: captureStackTrace(),
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *RuntimeError {
	return &RuntimeError{
		Type:       ErrorTypeConflict,
		Message:    message,
		StackTrace: captureStackTrace(),
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *RuntimeError {
	return &RuntimeError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StackTrace: captureStackTrace(),
	}
}

// NewStoreError creates a persistence store error
func NewStoreError(operation string, err error) *RuntimeError {
	return &RuntimeError{
		Type:       ErrorTypeStore,
		Message:    fmt.Sprintf("store operation '%s' failed", operation),
		Cause:      err,
		StackTrace: captureStackTrace(),
	}
}

// NewUnavailableError creates a service unavailable error
func NewUnavailableError(service string) *RuntimeError {
	return &RuntimeError{
		Type:       ErrorTypeUnavailable,
		Message:    fmt.Sprintf("service '%s' is unavailable", service),
		StackTrace: captureStackTrace(),
	}
}

// Helper functions

// IsRuntimeError checks if an error is a RuntimeError
func IsRuntimeError(err error) bool {
	var rtErr *RuntimeError
	return errors.As(err, &rtErr)
}

// GetRuntimeError extracts RuntimeError from an error chain
func GetRuntimeError(err error) *RuntimeError {
	var rtErr *RuntimeError
	if errors.As(err, &rtErr) {
		return rtErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	rtErr := GetRuntimeError(err)
	return rtErr != nil && rtErr.Type == errType
}

// IsBuild checks if an error is a chain construction error
func IsBuild(err error) bool {
	return IsType(err, ErrorTypeBuild)
}

// IsLifecycle checks if an error is a lifecycle callback error
func IsLifecycle(err error) bool {
	return IsType(err, ErrorTypeLifecycle)
}

// IsDispatch checks if an error is a dispatch error
func IsDispatch(err error) bool {
	return IsType(err, ErrorTypeDispatch)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return IsType(err, ErrorTypeConflict)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// If it's already a RuntimeError, add context to message
	if rtErr := GetRuntimeError(err); rtErr != nil {
		rtErr.Message = fmt.Sprintf("%s: %s", message, rtErr.Message)
		return rtErr
	}

	// Otherwise create a new internal error
	return NewInternalError(message).WithCause(err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
