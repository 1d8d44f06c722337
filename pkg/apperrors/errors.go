package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// AppError represents a structured application error
type AppError struct {
	Code       string        `json:"code"`             // Machine-readable error code
	Message    string        `json:"message"`          // Human-readable message
	Detail     string        `json:"detail,omitempty"` // Additional details
	HTTPStatus int           `json:"-"`                // HTTP status code
	Err        error         `json:"-"`                // Original error
	RetryAfter time.Duration `json:"-"`                // Server-supplied retry hint, 0 if absent
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds detail to the error
func (e *AppError) WithDetail(detail string) *AppError {
	e.Detail = detail
	return e
}

// WithRetryAfter records a server-supplied retry hint on the error
func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	e.RetryAfter = d
	return e
}

// --- Error constructors ---

// NewBadRequest creates a 400 Bad Request error
func NewBadRequest(code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a 404 Not Found error
func NewNotFound(code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusNotFound,
	}
}

// NewTooManyRequests creates a 429 Too Many Requests error
func NewTooManyRequests(code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// NewInternal creates a 500 Internal Server Error
func NewInternal(code, message string, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Err:        err,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// NewServiceUnavailable creates a 503 Service Unavailable error
func NewServiceUnavailable(code, message string, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Err:        err,
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// --- Failure-class predicates used by retry policies ---

// CodeOf extracts the machine code from err, or "" if err is not an AppError
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsRateLimited reports whether err is a rate-limit response from an
// upstream service (classification or notification channel).
func IsRateLimited(err error) bool {
	switch CodeOf(err) {
	case ErrCodeClassifyRateLimited, ErrCodeNotifyRateLimited:
		return true
	}
	return false
}

// IsInputTooLarge reports whether err signals the upstream classifier
// rejected the input size. Never retried.
func IsInputTooLarge(err error) bool {
	return CodeOf(err) == ErrCodeClassifyInputTooLarge
}

// IsTerminal reports whether err is a non-retryable channel failure
// (misconfigured destination, non-retryable 4xx).
func IsTerminal(err error) bool {
	switch CodeOf(err) {
	case ErrCodeNotifyChannelNotFound, ErrCodeNotifyTerminal:
		return true
	}
	return false
}

// RetryAfterOf extracts the server-supplied retry hint, or 0 if absent
func RetryAfterOf(err error) time.Duration {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.RetryAfter
	}
	return 0
}
