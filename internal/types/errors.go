package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Components MUST use these instead of hardcoded strings.
const (
	// Transient infrastructure failures. Retried per job-class policy.
	ErrCodeTransientIO ErrorCode = "transient_io_error"
	ErrCodeInternalDB  ErrorCode = "internal_database_error"

	// Domain state did not allow the requested transition (e.g. expiring an
	// already expired subscription). Treated as a no-op success.
	ErrCodeDomainInvariant ErrorCode = "domain_invariant_violation"

	// Not Found
	ErrCodeRecipientNotFound    ErrorCode = "not_found_recipient"
	ErrCodeNotFoundSubscription ErrorCode = "not_found_subscription"
	ErrCodeNotFoundJob          ErrorCode = "not_found_job"

	// Delivery
	ErrCodeDispatchFailed        ErrorCode = "dispatch_failed"
	ErrCodeEmailBlocked          ErrorCode = "email_blocked"
	ErrCodeUpstreamEmailProvider ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited   ErrorCode = "upstream_rate_limited"

	// Invalid job definition (unknown cleanup target, unknown job class,
	// malformed payload). Fatal to the job, never retried.
	ErrCodeConfiguration ErrorCode = "configuration_error"

	// Validation (400), used by the ops router.
	ErrCodeValidationInvalidState ErrorCode = "validation_invalid_job_state"
	ErrCodeValidationInvalidLimit ErrorCode = "validation_invalid_limit"

	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case c == ErrCodeDomainInvariant:
		return http.StatusConflict
	case strings.HasPrefix(s, "upstream_"), c == ErrCodeDispatchFailed, c == ErrCodeEmailBlocked:
		return http.StatusBadGateway
	case c == ErrCodeTransientIO:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type used throughout the service.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or the empty
// code when err carries none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether err's chain contains an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether a failed job should be retried under its class
// policy. Domain invariant violations, missing recipients and configuration
// errors cannot be fixed by running the job again. Everything else, including
// errors without a code, is treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case ErrCodeDomainInvariant, ErrCodeRecipientNotFound, ErrCodeConfiguration:
		return false
	default:
		return true
	}
}
