package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an engine error.
type ErrorClass string

const (
	// ErrorClassInvalidConfiguration indicates an illegal configuration request.
	// The request was rejected before any state changed.
	ErrorClassInvalidConfiguration ErrorClass = "invalid_configuration"

	// ErrorClassNotFound indicates a referenced entity does not exist.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassConflict indicates the request conflicts with the current
	// state of the component, for example modifying a running component.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassInternal indicates an unexpected failure.
	ErrorClassInternal ErrorClass = "internal"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the component or property that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Resource != "" && e.Operation != "":
		msg += fmt.Sprintf(" (resource=%s, operation=%s)", e.Resource, e.Operation)
	case e.Resource != "":
		msg += fmt.Sprintf(" (resource=%s)", e.Resource)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewInvalidConfigurationError creates a new invalid configuration error.
func NewInvalidConfigurationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInvalidConfiguration,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError creates a new not found error.
func NewNotFoundError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassNotFound,
		Message: message,
		Code:    ErrCodeNotFound,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInternal,
		Message: message,
		Code:    ErrCodeInternal,
		Err:     err,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsInvalidConfiguration returns true if the error is classified as an invalid configuration.
func IsInvalidConfiguration(err error) bool {
	return hasClass(err, ErrorClassInvalidConfiguration)
}

// IsNotFound returns true if the error is classified as not found.
func IsNotFound(err error) bool {
	return hasClass(err, ErrorClassNotFound)
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	return hasClass(err, ErrorClassConflict)
}

// IsInternal returns true if the error is classified as internal.
func IsInternal(err error) bool {
	return hasClass(err, ErrorClassInternal)
}

func hasClass(err error, class ErrorClass) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// ErrorCode returns the code of the first EngineError in the chain, or "".
func ErrorCode(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Common error codes.
const (
	ErrCodeUnknownProperty        = "UNKNOWN_PROPERTY"
	ErrCodeRequiredRemoval        = "REQUIRED_PROPERTY_REMOVAL"
	ErrCodeSensitiveReference     = "SENSITIVE_REFERENCE_NOT_WHOLE_VALUE"
	ErrCodeSensitiveMismatch      = "SENSITIVE_PARAMETER_MISMATCH"
	ErrCodeServiceParameter       = "SERVICE_PROPERTY_REFERENCES_PARAMETER"
	ErrCodeExpressionLanguageFlag = "EXPRESSION_LANGUAGE_FLAG_CHANGED"
	ErrCodeInvalidDescriptor      = "INVALID_DESCRIPTOR"
	ErrCodeComponentRunning       = "COMPONENT_RUNNING"
	ErrCodeServiceReferenced      = "SERVICE_REFERENCED"
	ErrCodeNotFound               = "NOT_FOUND"
	ErrCodeAlreadyExists          = "ALREADY_EXISTS"
	ErrCodeInternal               = "INTERNAL_ERROR"
	ErrCodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	ErrCodeMissingComponent       = "MISSING_COMPONENT"
)

// ServiceDisabledError signals that validation touched a controller service
// that is currently disabled. Validation maps it to a ResultServiceDisabled
// result instead of a generic failure.
type ServiceDisabledError struct {
	ServiceID string
}

func (e *ServiceDisabledError) Error() string {
	return fmt.Sprintf("controller service %s is disabled", e.ServiceID)
}
