package validator

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator wraps go-playground struct validation and reports failures using
// the request's JSON field names.
type Validator struct {
	validate *validator.Validate
}

// New creates a validator configured for request DTOs
func New() *Validator {
	validate := validator.New()

	// Report errors against json tags, not Go field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{validate: validate}
}

// Validate validates a struct and returns ValidationErrors, or nil when the
// struct passes.
func (v *Validator) Validate(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	return ToValidationErrors(err)
}

// ValidationError describes a single failed rule on a single field.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
	Rule    string      `json:"rule"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates every failed rule from one request.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// ToValidationErrors converts go-playground errors into the service's shape.
func ToValidationErrors(err error) ValidationErrors {
	var out ValidationErrors

	var fieldErrors validator.ValidationErrors
	if !asValidationErrors(err, &fieldErrors) {
		return ValidationErrors{{
			Field:   "",
			Message: err.Error(),
			Rule:    "struct",
		}}
	}

	for _, fe := range fieldErrors {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Message: messageForTag(fe),
			Value:   fe.Value(),
			Rule:    fe.Tag(),
		})
	}

	return out
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	fe, ok := err.(validator.ValidationErrors)
	if ok {
		*target = fe
	}
	return ok
}

func messageForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "dive":
		return "invalid element"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
