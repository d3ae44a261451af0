// Package validation wraps go-playground/validator with the project's custom
// rules and maps failures onto validation_error domain errors.
package validation

import (
	"errors"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	dErrors "faceauth/pkg/domain-errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("username", validateUsername)
	return v
}

// validateUsername rejects control characters and surrounding whitespace.
func validateUsername(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if name != strings.TrimSpace(name) {
		return false
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// Struct validates payload against its `validate` tags. Field failures are
// reported in the error details keyed by field name.
func Struct(payload any) error {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid request")
	}
	details := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return dErrors.NewWithDetails(dErrors.CodeValidation, "invalid request", details)
}
