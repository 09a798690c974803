package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Delivery
	ErrCodeTransientDelivery ErrorCode = "TRANSIENT_DELIVERY"
	ErrCodePermanentDelivery ErrorCode = "PERMANENT_DELIVERY"
	ErrCodeUnsupportedChannel ErrorCode = "UNSUPPORTED_CHANNEL"
	ErrCodeRateLimitExceeded  ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Inbound
	ErrCodeMalformedPayload  ErrorCode = "MALFORMED_PAYLOAD"
	ErrCodeNotificationParse ErrorCode = "NOTIFICATION_PARSE"
	ErrCodeVerificationFailed ErrorCode = "VERIFICATION_FAILED"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	ErrCodeConflict ErrorCode = "CONFLICT"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeExternal ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

// TransientDelivery marks a provider failure worth retrying: timeouts,
// 5xx responses, provider-side rate limiting.
func TransientDelivery(message string, cause error) *AppError {
	return Wrap(ErrCodeTransientDelivery, message, cause)
}

// PermanentDelivery marks a failure retries cannot fix: 4xx validation
// errors, invalid recipients, malformed payloads.
func PermanentDelivery(message string, cause error) *AppError {
	return Wrap(ErrCodePermanentDelivery, message, cause)
}

func UnsupportedChannel(channel string) *AppError {
	return New(ErrCodeUnsupportedChannel, fmt.Sprintf("Channel %q is not configured", channel))
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func MalformedPayload(reason string) *AppError {
	return New(ErrCodeMalformedPayload, fmt.Sprintf("Malformed webhook payload: %s", reason))
}

func NotificationParse(cause error) *AppError {
	return Wrap(ErrCodeNotificationParse, "Unparsable service notification record", cause)
}

func VerificationFailed() *AppError {
	return New(ErrCodeVerificationFailed, "Webhook verification failed")
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

func External(service string, cause error) *AppError {
	return Wrap(ErrCodeExternal, fmt.Sprintf("External service error: %s", service), cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsTransient reports whether the error is a retryable delivery failure.
func IsTransient(err error) bool {
	return GetCode(err) == ErrCodeTransientDelivery
}
