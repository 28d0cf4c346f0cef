package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	// resourceKeyPattern bounds keys that end up in store keys and log lines
	resourceKeyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:\-]*$`)
)

// ErrNilRequest is returned when a nil request is validated
var ErrNilRequest = errors.New("request cannot be nil")

func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("resourcekey", func(fl validator.FieldLevel) bool {
			return resourceKeyPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// Struct validates a wire message using its `validate` struct tags and
// returns the first failure in a client-presentable form.
func Struct(req any) error {
	if req == nil {
		return ErrNilRequest
	}
	return formatValidationError(instance().Struct(req))
}

// ValidateBatchSize checks an instruction batch against the per-message cap
func ValidateBatchSize(size, max int) error {
	if size < 1 {
		return fmt.Errorf("batch must contain at least one instruction, got %d", size)
	}
	if size > max {
		return fmt.Errorf("batch must not exceed %d instructions, got %d", max, size)
	}
	return nil
}

// ValidateResourceKey checks a graph or instance key outside of a struct
func ValidateResourceKey(key string) error {
	if key == "" {
		return errors.New("resource key cannot be empty")
	}
	if len(key) > 256 {
		return fmt.Errorf("resource key exceeds maximum length of 256 characters")
	}
	if !resourceKeyPattern.MatchString(key) {
		return fmt.Errorf("resource key %q contains invalid characters", key)
	}
	return nil
}

func formatValidationError(err error) error {
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	for _, e := range validationErrs {
		field := e.Field()
		switch e.Tag() {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min":
			return fmt.Errorf("%s: must be at least %s", field, e.Param())
		case "max":
			return fmt.Errorf("%s: must not exceed %s", field, e.Param())
		case "oneof":
			return fmt.Errorf("%s: must be one of [%s]", field, e.Param())
		case "resourcekey":
			return fmt.Errorf("%s: contains invalid characters", field)
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
		}
	}
	return err
}
