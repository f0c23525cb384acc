package types

import "fmt"

// ErrorCode represents a unified error code across the gateway.
type ErrorCode string

// Gateway error codes
const (
	ErrEmptyInput            ErrorCode = "EMPTY_INPUT"
	ErrMissingCredential     ErrorCode = "MISSING_CREDENTIAL"
	ErrUnsupportedProvider   ErrorCode = "UNSUPPORTED_PROVIDER"
	ErrUnsupportedCapability ErrorCode = "UNSUPPORTED_CAPABILITY"
	ErrRetrievalTransport    ErrorCode = "RETRIEVAL_TRANSPORT"
	ErrStreamTransport       ErrorCode = "STREAM_TRANSPORT"
	ErrMalformedChunk        ErrorCode = "MALFORMED_CHUNK"
	ErrPersistence           ErrorCode = "PERSISTENCE"
)

// Upstream transport error codes
const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrForbidden        ErrorCode = "FORBIDDEN"
	ErrRateLimited      ErrorCode = "RATE_LIMITED"
	ErrQuotaExceeded    ErrorCode = "QUOTA_EXCEEDED"
	ErrModelOverloaded  ErrorCode = "MODEL_OVERLOADED"
	ErrModelNotFound    ErrorCode = "MODEL_NOT_FOUND"
	ErrUpstreamTimeout  ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError    ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
	ErrProviderDisabled ErrorCode = "PROVIDER_DISABLED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
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

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// AsError converts any error into a structured *Error, wrapping foreign
// errors under the given fallback code.
func AsError(err error, fallback ErrorCode) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return NewError(fallback, err.Error()).WithCause(err)
}
