package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unified error code across the module.
type ErrorCode string

// Invocation error codes
const (
	ErrAdmissionTimeout        ErrorCode = "ADMISSION_TIMEOUT"
	ErrCallTimeout             ErrorCode = "CALL_TIMEOUT"
	ErrCallCanceled            ErrorCode = "CALL_CANCELED"
	ErrCallExhausted           ErrorCode = "CALL_EXHAUSTED"
	ErrProviderFatal           ErrorCode = "PROVIDER_FATAL"
	ErrProviderUnavailable     ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrRateLimited             ErrorCode = "RATE_LIMITED"
	ErrTypeValidationExhausted ErrorCode = "TYPE_VALIDATION_EXHAUSTED"
)

// Budget error codes
const (
	ErrBudgetExceeded ErrorCode = "BUDGET_EXCEEDED"
	ErrScopeClosed    ErrorCode = "SCOPE_CLOSED"
)

// General error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrInvalidConfig  ErrorCode = "INVALID_CONFIG"
	ErrQuotaExceeded  ErrorCode = "QUOTA_EXCEEDED"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrInternal       ErrorCode = "INTERNAL"
)

// Error represents a structured error with code, message, and metadata.
// Terminal errors additionally carry the endpoint, the number of attempts
// consumed, and the open scope chain at failure time.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Endpoint   string    `json:"endpoint,omitempty"`
	Attempts   int       `json:"attempts,omitempty"`
	Scopes     []string  `json:"scopes,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	if e.Endpoint != "" {
		fmt.Fprintf(&b, " (endpoint=%s", e.Endpoint)
		if e.Attempts > 0 {
			fmt.Fprintf(&b, ", attempts=%d", e.Attempts)
		}
		b.WriteString(")")
	} else if e.Attempts > 0 {
		fmt.Fprintf(&b, " (attempts=%d)", e.Attempts)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
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

// WithEndpoint sets the endpoint the failed call targeted.
func (e *Error) WithEndpoint(endpoint string) *Error {
	e.Endpoint = endpoint
	return e
}

// WithAttempts records how many attempts were consumed.
func (e *Error) WithAttempts(attempts int) *Error {
	e.Attempts = attempts
	return e
}

// WithScopes records the open scope chain, innermost first.
func (e *Error) WithScopes(scopes []string) *Error {
	e.Scopes = scopes
	return e
}

// IsRetryable checks if an error is retryable. Errors that do not carry a
// classification are treated as retryable: the transient network class is
// the default, fatal is an explicit opt-in by the adapter.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return true
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
