package errors

import (
	"errors"
	"fmt"
)

// Error types for different failure domains
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeStorage       ErrorType = "storage"
	ErrorTypeSerialization ErrorType = "serialization"
	ErrorTypeInternal      ErrorType = "internal"
	ErrorTypeExternal      ErrorType = "external"
	ErrorTypeNotFound      ErrorType = "not_found"
)

// AppError represents a structured application error
type AppError struct {
	Type      ErrorType              `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Retryable bool                   `json:"retryable"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors

func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:      ErrorTypeValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// NewStorageError wraps a database read/write failure. Storage errors are
// retryable only in the sense that the next scheduled invocation repeats
// the read; no in-process retry happens.
func NewStorageError(op, message string) *AppError {
	return &AppError{
		Type:      ErrorTypeStorage,
		Code:      "STORAGE_FAILURE",
		Message:   message,
		Retryable: true,
		Details:   map[string]interface{}{"operation": op},
	}
}

func NewSerializationError(message string) *AppError {
	return &AppError{
		Type:      ErrorTypeSerialization,
		Code:      "SERIALIZATION_FAILURE",
		Message:   message,
		Retryable: false,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:      ErrorTypeInternal,
		Code:      "INTERNAL_ERROR",
		Message:   message,
		Retryable: true,
	}
}

func NewExternalError(service, message string) *AppError {
	return &AppError{
		Type:      ErrorTypeExternal,
		Code:      "EXTERNAL_SERVICE_ERROR",
		Message:   fmt.Sprintf("%s service error: %s", service, message),
		Retryable: true,
		Details:   map[string]interface{}{"service": service},
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:      ErrorTypeNotFound,
		Code:      "RESOURCE_NOT_FOUND",
		Message:   fmt.Sprintf("%s not found", resource),
		Retryable: false,
	}
}

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}
