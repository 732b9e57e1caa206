package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

// Request error codes
const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrSessionMismatch ErrorCode = "SESSION_MISMATCH"
	ErrCancelled       ErrorCode = "CANCELLED"
	ErrUnauthorized    ErrorCode = "UNAUTHORIZED"
)

// Stage error codes
const (
	ErrStructuralViolation ErrorCode = "STRUCTURAL_VIOLATION"
	ErrSemanticViolation   ErrorCode = "SEMANTIC_VIOLATION"
	ErrTransientFailure    ErrorCode = "TRANSIENT_FAILURE"
	ErrWorkerFailure       ErrorCode = "WORKER_FAILURE"
	ErrUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
	ErrServiceUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
)

// Storage error codes
const (
	ErrCheckpointWrite ErrorCode = "CHECKPOINT_WRITE"
	ErrInternalError   ErrorCode = "INTERNAL_ERROR"
)

// FailureClass names the category a fatal run failure falls into. It is what
// callers see in diagnostics.
type FailureClass string

const (
	FailureMalformedRequest FailureClass = "malformed_request"
	FailureStructural       FailureClass = "structural_violation"
	FailureSemantic         FailureClass = "semantic_violation"
	FailureTransient        FailureClass = "transient_failure"
	FailureWorker           FailureClass = "worker_failure"
	FailureCheckpointWrite  FailureClass = "checkpoint_write"
	FailureCancelled        FailureClass = "cancelled"
	FailureInternal         FailureClass = "internal"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Stage      string    `json:"stage,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithStage sets the stage name the error belongs to.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// NewTransientError marks a worker failure as recoverable by waiting: timeouts,
// rate limiting, connectivity.
func NewTransientError(code ErrorCode, message string, cause error) *Error {
	return NewError(code, message).WithCause(cause).WithRetryable(true)
}

// NewPermanentError marks a worker failure that waiting will not fix.
func NewPermanentError(message string, cause error) *Error {
	return NewError(ErrWorkerFailure, message).WithCause(cause).WithRetryable(false)
}

// IsRetryable checks if an error is a retryable *Error anywhere in the chain.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsTransient reports whether err should go down the backoff path. Deadline
// expiry and errors without an explicit classification count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return !IsPermanent(err)
}

// IsPermanent reports whether err carries an explicit non-retryable code.
func IsPermanent(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return !e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HTTPStatusFor maps an error code to the status the API answers with.
func HTTPStatusFor(code ErrorCode) int {
	switch code {
	case ErrInvalidRequest, ErrSessionMismatch:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case ErrStructuralViolation, ErrSemanticViolation, ErrTransientFailure, ErrWorkerFailure:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
