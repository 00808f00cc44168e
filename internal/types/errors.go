package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// Handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField   ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidField   ErrorCode = "validation_invalid_field"
	ErrCodeValidationInvalidType    ErrorCode = "validation_invalid_type"
	ErrCodeValidationInvalidWhen    ErrorCode = "validation_invalid_when"
	ErrCodeValidationInvalidCron    ErrorCode = "validation_invalid_cron"
	ErrCodeValidationInvalidWebhook ErrorCode = "validation_invalid_webhook_url"
	ErrCodeValidationInvalidJSON    ErrorCode = "validation_invalid_json"

	// Auth (401)
	ErrCodeAuthAppKeyMissing ErrorCode = "auth_app_key_missing"
	ErrCodeAuthAppKeyInvalid ErrorCode = "auth_app_key_invalid"

	// Not Found (404)
	ErrCodeNotFoundReminder ErrorCode = "not_found_reminder"

	// Internal (500)
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeInternalStore      ErrorCode = "internal_store_error"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type. All boundary errors are
// expressed as AppError to enable consistent formatting and HTTP status
// mapping. Delivery failures are deliberately NOT AppErrors: they never
// cross the delivery engine's boundary and are recorded on the reminder
// itself (last_error / attempts / status).
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

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Err: err, Details: details}
}
