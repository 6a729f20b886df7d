// Package errors provides a structured error type shared across the
// pipeline, safety fabric, incident manager, and action coordinator, so
// callers can branch on Type instead of matching error strings.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorType classifies an AppError for HTTP mapping and safe-message
// selection.
type ErrorType string

const (
	ErrorTypeValidation          ErrorType = "validation"
	ErrorTypeAuth                ErrorType = "auth"
	ErrorTypeNotFound            ErrorType = "not_found"
	ErrorTypeConflict            ErrorType = "conflict"
	ErrorTypeTimeout             ErrorType = "timeout"
	ErrorTypeRateLimit           ErrorType = "rate_limit"
	ErrorTypeDatabase            ErrorType = "database"
	ErrorTypeNetwork             ErrorType = "network"
	ErrorTypeInternal            ErrorType = "internal"
	ErrorTypeTenantInactive      ErrorType = "tenant_inactive"
	ErrorTypeWorkflowDisabled    ErrorType = "workflow_disabled"
	ErrorTypeBreakerOpen         ErrorType = "breaker_open"
	ErrorTypeInvariantViolation  ErrorType = "invariant_violation"
)

var statusCodes = map[ErrorType]int{
	ErrorTypeValidation:         http.StatusBadRequest,
	ErrorTypeAuth:               http.StatusUnauthorized,
	ErrorTypeNotFound:           http.StatusNotFound,
	ErrorTypeConflict:           http.StatusConflict,
	ErrorTypeTimeout:            http.StatusRequestTimeout,
	ErrorTypeRateLimit:          http.StatusTooManyRequests,
	ErrorTypeDatabase:           http.StatusInternalServerError,
	ErrorTypeNetwork:            http.StatusInternalServerError,
	ErrorTypeInternal:           http.StatusInternalServerError,
	ErrorTypeTenantInactive:     http.StatusBadRequest,
	ErrorTypeWorkflowDisabled:   http.StatusForbidden,
	ErrorTypeBreakerOpen:        http.StatusServiceUnavailable,
	ErrorTypeInvariantViolation: http.StatusInternalServerError,
}

// AppError is a typed error carrying enough structure for HTTP mapping,
// safe client messages, and structured logging.
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Details    string
	Cause      error
}

// New creates an AppError of the given type.
func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodes[t],
	}
}

// Wrap creates an AppError of the given type wrapping cause.
func Wrap(cause error, t ErrorType, message string) *AppError {
	err := New(t, message)
	err.Cause = cause
	return err
}

// Wrapf is Wrap with formatted message.
func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails sets Details in place and returns the receiver.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf sets formatted Details in place and returns the receiver.
func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// NewValidationError creates a validation AppError.
func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

// NewDatabaseError wraps a database operation failure.
func NewDatabaseError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDatabase, "database operation failed: %s", operation)
}

// NewNotFoundError creates a not-found AppError for the named resource.
func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

// NewAuthError creates an auth AppError.
func NewAuthError(message string) *AppError {
	return New(ErrorTypeAuth, message)
}

// NewTimeoutError creates a timeout AppError for the named operation.
func NewTimeoutError(operation string) *AppError {
	return New(ErrorTypeTimeout, fmt.Sprintf("operation timed out: %s", operation))
}

// NewInvariantViolation creates an invariant_violation AppError — fatal to
// the offending operation only; the process continues serving other work.
func NewInvariantViolation(message string) *AppError {
	return New(ErrorTypeInvariantViolation, message)
}

// IsType reports whether err is an *AppError of type t.
func IsType(err error, t ErrorType) bool {
	ae, ok := err.(*AppError)
	return ok && ae.Type == t
}

// GetType returns err's AppError type, or ErrorTypeInternal if err is not
// an *AppError.
func GetType(err error) ErrorType {
	if ae, ok := err.(*AppError); ok {
		return ae.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status class for err.
func GetStatusCode(err error) int {
	if ae, ok := err.(*AppError); ok {
		return ae.StatusCode
	}
	return http.StatusInternalServerError
}

// ErrorMessages holds the safe, client-facing text for error types whose
// internal Message must not leak implementation detail.
var ErrorMessages = struct {
	ResourceNotFound        string
	AuthenticationFailed    string
	OperationTimeout        string
	RateLimitExceeded       string
	ConcurrentModification  string
}{
	ResourceNotFound:       "The requested resource was not found",
	AuthenticationFailed:   "Authentication failed",
	OperationTimeout:       "The operation timed out",
	RateLimitExceeded:      "Rate limit exceeded, please retry later",
	ConcurrentModification: "The resource was modified concurrently, please retry",
}

// SafeErrorMessage returns client-safe text for err: validation messages are
// passed through verbatim (they describe the caller's own input), internal
// detail for everything else is replaced with a generic type-appropriate
// message.
func SafeErrorMessage(err error) string {
	ae, ok := err.(*AppError)
	if !ok {
		return "An unexpected error occurred"
	}
	switch ae.Type {
	case ErrorTypeValidation:
		return ae.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict:
		return ErrorMessages.ConcurrentModification
	default:
		return "An internal error occurred"
	}
}

// LogFields returns a structured field map suitable for a logging sink.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{"error": err.Error()}
	ae, ok := err.(*AppError)
	if !ok {
		return fields
	}
	fields["error_type"] = string(ae.Type)
	fields["status_code"] = ae.StatusCode
	if ae.Details != "" {
		fields["error_details"] = ae.Details
	}
	if ae.Cause != nil {
		fields["underlying_error"] = ae.Cause.Error()
	}
	return fields
}

// Chain joins non-nil errors with " -> ", returning nil if all are nil and
// the single error unwrapped if exactly one is non-nil.
func Chain(errs ...error) error {
	var msgs []string
	var first error
	count := 0
	for _, e := range errs {
		if e == nil {
			continue
		}
		if first == nil {
			first = e
		}
		count++
		msgs = append(msgs, e.Error())
	}
	switch count {
	case 0:
		return nil
	case 1:
		return first
	default:
		joined := msgs[0]
		for _, m := range msgs[1:] {
			joined += " -> " + m
		}
		return fmt.Errorf("%s", joined)
	}
}
