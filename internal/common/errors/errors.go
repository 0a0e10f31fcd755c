package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode identifies a class of failure surfaced to callers.
type ErrorCode string

const (
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// Authenticated, but not allowed to use the endpoint.
	ErrCodeForbidden ErrorCode = "FORBIDDEN"

	// No identity available for the request.
	ErrCodeAuthMissing ErrorCode = "AUTH_MISSING"
	// Remote store unreachable or failed; transient.
	ErrCodeRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"
	// Terminal input error, never retryable.
	ErrCodeValidation ErrorCode = "VALIDATION_FAILURE"
	ErrCodeConflict   ErrorCode = "CONCURRENT_WRITE_CONFLICT"
	// Batch recovery halted early on a safety budget.
	ErrCodeMigrationPartial ErrorCode = "MIGRATION_PARTIAL_FAILURE"
	ErrCodeRateLimit        ErrorCode = "RATE_LIMIT_EXCEEDED"
)

// AppError is a typed application error.
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the caller may try the same operation again.
func (e *AppError) Retryable() bool {
	return e.Code == ErrCodeRemoteUnavailable
}

// WithDetail attaches a detail value to the error.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an application error.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Wrap wraps an existing error.
func Wrap(err error, code ErrorCode, message string) *AppError {
	appErr := New(code, message)
	appErr.Cause = err
	return appErr
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

func NewAuthMissingError() *AppError {
	return New(ErrCodeAuthMissing, "no authenticated identity")
}

func NewValidationError(field, reason string) *AppError {
	return New(ErrCodeValidation, fmt.Sprintf("validation failed for field '%s': %s", field, reason)).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

func NewRemoteError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeRemoteUnavailable, fmt.Sprintf("remote operation failed: %s", operation)).
		WithDetail("operation", operation)
}

func NewNotFoundError(resource string, id interface{}) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

func NewRateLimitError(retryAt time.Time) *AppError {
	return New(ErrCodeRateLimit, "session limit reached for the current window").
		WithDetail("next_available_at", retryAt.UTC().Format(time.RFC3339))
}

// FromPanic converts a recovered panic value into an internal error.
func FromPanic(op string, recovered interface{}) *AppError {
	return New(ErrCodeInternal, fmt.Sprintf("unexpected failure in %s", op)).
		WithDetail("panic", fmt.Sprintf("%v", recovered))
}

// AsAppError unwraps err to an AppError when one is in the chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of err, INTERNAL_ERROR for foreign errors and "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// Retryable reports whether err is a transient failure.
func Retryable(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Retryable()
}
