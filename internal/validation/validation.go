package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	return &Validator{validate: validator.New()}
}

// Struct validates any tagged request struct and folds field errors into one
// human-readable message.
func (v *Validator) Struct(s any) error {
	if err := v.validate.Struct(s); err != nil {
		if invalid, ok := err.(*validator.InvalidValidationError); ok {
			return invalid
		}
		if verrs, ok := err.(validator.ValidationErrors); ok {
			var b strings.Builder
			b.WriteString("validation failed: ")
			for i, fe := range verrs {
				if i > 0 {
					b.WriteString("; ")
				}
				b.WriteString(fieldError(fe))
			}
			return errors.New(b.String())
		}
		return err
	}
	return nil
}

func fieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Namespace())
	case "email":
		return fmt.Sprintf("%s must be a valid email", fe.Namespace())
	case "printascii":
		return fmt.Sprintf("%s must contain printable ASCII characters only", fe.Namespace())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Namespace(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", fe.Namespace(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", fe.Namespace(), fe.Param())
	default:
		return fmt.Sprintf("%s failed on %s validation", fe.Namespace(), fe.Tag())
	}
}
