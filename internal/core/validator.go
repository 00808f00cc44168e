package core

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"urns/internal/types"
)

// ValidationError describes a single failed field constraint.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult aggregates validation failures and non-blocking warnings.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []string
}

// IsValid reports whether the result contains no errors. Warnings do not
// make a result invalid.
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator wraps go-playground/validator and translates its output into
// the application error taxonomy.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator using struct-tag rules.
func NewValidator(logger *slog.Logger) *Validator {
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// ValidateStruct validates v against its struct tags. On failure it returns
// a *types.AppError whose code reflects the first failing constraint and
// whose details carry every failure as []ValidationError under the
// "validation_errors" key.
func (v *Validator) ValidateStruct(val interface{}) error {
	err := v.validate.Struct(val)
	if err == nil {
		return nil
	}

	invalid, ok := err.(validator.ValidationErrors)
	if !ok {
		// InvalidValidationError: the caller passed a non-struct.
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	errs := make([]ValidationError, 0, len(invalid))
	for _, fe := range invalid {
		errs = append(errs, ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Code:    fe.Tag(),
			Message: fieldErrorMessage(fe),
		})
	}

	return types.NewAppErrorWithDetails(
		codeForTag(invalid[0].Tag()),
		errs[0].Message,
		nil,
		map[string]any{"validation_errors": errs},
	)
}

// codeForTag maps a validator tag to the matching application error code.
func codeForTag(tag string) types.ErrorCode {
	switch tag {
	case "required", "required_if", "required_without":
		return types.ErrCodeValidationMissingField
	case "url", "http_url":
		return types.ErrCodeValidationInvalidWebhook
	case "oneof":
		return types.ErrCodeValidationInvalidType
	default:
		return types.ErrCodeValidationInvalidField
	}
}

// fieldErrorMessage renders a human-readable reason for one failure.
func fieldErrorMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is a required field", field)
	case "url", "http_url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation on %q", field, fe.Tag())
	}
}
