package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator wraps the go-playground validator. Field names in errors are
// the JSON names, so model output keys such as "Institute Name" come back
// verbatim.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return &Validator{validate: v}
}

// ValidateStruct validates a struct using struct tags
func (v *Validator) ValidateStruct(s interface{}) error {
	return v.validate.Struct(s)
}

// MissingFields lists the fields that failed a required check
func MissingFields(err error) []string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return nil
	}
	var fields []string
	for _, e := range validationErrs {
		if strings.HasPrefix(e.Tag(), "required") {
			fields = append(fields, e.Field())
		}
	}
	return fields
}

// FormatValidationErrors converts validation errors to a user-friendly format
func FormatValidationErrors(err error) map[string]string {
	out := make(map[string]string)

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return out
	}
	for _, e := range validationErrs {
		field := e.Field()
		switch e.Tag() {
		case "required":
			out[field] = fmt.Sprintf("%s is required", field)
		case "min":
			out[field] = fmt.Sprintf("%s must contain at least %s item(s)", field, e.Param())
		case "max":
			out[field] = fmt.Sprintf("%s must contain at most %s item(s)", field, e.Param())
		case "oneof":
			out[field] = fmt.Sprintf("%s must be one of: %s", field, e.Param())
		default:
			out[field] = fmt.Sprintf("%s is invalid", field)
		}
	}
	return out
}
