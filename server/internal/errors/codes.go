package errors

import (
	"fmt"
	"net/http"

	pkgerrors "github.com/pkg/errors"
)

// ErrorCode represents a specific error type returned by the API.
type ErrorCode string

const (
	// ErrCodeUnauthenticated indicates the request carried no identity.
	ErrCodeUnauthenticated ErrorCode = "UNAUTHENTICATED"
	// ErrCodePermissionDenied indicates the caller does not own the resource.
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	// ErrCodeNotFound indicates an unknown session or conversation.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeConflict indicates the resource is held by another session or conversation.
	ErrCodeConflict ErrorCode = "CONFLICT"
	// ErrCodeRateLimitExceeded indicates rate limit has been exceeded.
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeAgentExecutionFailed indicates agent execution failure. It is
	// recorded in the chunk log and never returned by the API.
	ErrCodeAgentExecutionFailed ErrorCode = "AGENT_EXECUTION_FAILED"
	// ErrCodeInternal indicates an unexpected failure.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// AppError represents a structured API error.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *AppError) WithContext(key string, value any) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// HTTPStatus returns the status code the error is served with.
func (e *AppError) HTTPStatus() int {
	return HTTPStatus(e.Code)
}

// Convenience constructors for common error types.

func Unauthenticated(msg string) *AppError {
	return &AppError{Code: ErrCodeUnauthenticated, Message: msg}
}

func PermissionDenied(msg string, cause error) *AppError {
	return &AppError{Code: ErrCodePermissionDenied, Message: msg, Cause: cause}
}

func NotFound(msg string, cause error) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: msg, Cause: cause}
}

func Conflict(msg string, cause error) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: msg, Cause: cause}
}

// RateLimitExceeded creates a rate limit exceeded error.
func RateLimitExceeded(msg string) *AppError {
	return &AppError{Code: ErrCodeRateLimitExceeded, Message: msg}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *AppError {
	return &AppError{Code: ErrCodeInvalidArgument, Message: msg}
}

func Internal(cause error) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: "internal error", Cause: cause}
}

// Wrap wraps an existing error with additional context.
func Wrap(cause error, code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: cause}
}

// IsCode checks if an error is of a specific code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if pkgerrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not an AppError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	var appErr *AppError
	if pkgerrors.As(err, &appErr) {
		return appErr.Code
	}
	return defaultCode
}

// HTTPStatus maps an error code to its HTTP status.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case ErrCodePermissionDenied:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
