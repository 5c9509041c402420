package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

// Configuration error codes. These are fatal and surface before any
// network call is made.
const (
	ErrUnknownProvider       ErrorCode = "UNKNOWN_PROVIDER"
	ErrProviderNotConfigured ErrorCode = "PROVIDER_NOT_CONFIGURED"
	ErrInvalidBatchSize      ErrorCode = "INVALID_BATCH_SIZE"
	ErrInvalidConfig         ErrorCode = "INVALID_CONFIG"
)

// Transport error code. Scoped to a single HTTP call; the Retryable flag
// distinguishes timeouts and resets from hard failures.
const (
	ErrTransport ErrorCode = "TRANSPORT"
)

// Provider response error codes. Scoped to one batch; they never abort
// sibling batches.
const (
	ErrProviderAuth            ErrorCode = "PROVIDER_AUTH"
	ErrProviderRateLimited     ErrorCode = "PROVIDER_RATE_LIMITED"
	ErrProviderQuotaExceeded   ErrorCode = "PROVIDER_QUOTA_EXCEEDED"
	ErrProviderUnavailable     ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrProviderContentFiltered ErrorCode = "PROVIDER_CONTENT_FILTERED"
	ErrProviderBadResponse     ErrorCode = "PROVIDER_BAD_RESPONSE"
	ErrModelNotFound           ErrorCode = "MODEL_NOT_FOUND"
	ErrContextTooLong          ErrorCode = "CONTEXT_TOO_LONG"
)

// Run-level error codes.
const (
	ErrAggregation      ErrorCode = "AGGREGATION"
	ErrGenerationFailed ErrorCode = "GENERATION_FAILED"
	ErrRunCancelled     ErrorCode = "RUN_CANCELLED"
	ErrInternal         ErrorCode = "INTERNAL"
)

// API boundary error codes. Raised by the HTTP layer, never by the
// pipeline itself.
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrNotFound       ErrorCode = "NOT_FOUND"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	BatchIndex int       `json:"batch_index,omitempty"`
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

// WrapError creates a new Error wrapping an underlying cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
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

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithBatchIndex tags the error with the frame batch it belongs to.
func (e *Error) WithBatchIndex(index int) *Error {
	e.BatchIndex = index
	return e
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// IsConfiguration reports whether err belongs to the configuration family,
// i.e. it was raised before any network call.
func IsConfiguration(err error) bool {
	switch GetErrorCode(err) {
	case ErrUnknownProvider, ErrProviderNotConfigured, ErrInvalidBatchSize, ErrInvalidConfig:
		return true
	}
	return false
}
