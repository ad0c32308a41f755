package scheduling

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/drfirst/go-medsched/internal/domain/schedule"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// validationError turns the first failed rule into a schedule validation error.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return schedule.Validation("", "invalid input: %v", err)
	}
	e := verrs[0]
	field := e.Field()
	switch e.Tag() {
	case "required", "notblank":
		return schedule.Validation(field, "%s is required", field)
	case "oneof":
		return schedule.Validation(field, "%s must be one of %s", field, e.Param())
	case "max":
		return schedule.Validation(field, "%s must be at most %s characters", field, e.Param())
	default:
		return schedule.Validation(field, "%s is invalid", field)
	}
}
