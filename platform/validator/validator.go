// Package validator provides validation infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator wraps the go-playground validator for structured validation.
type Validator struct {
	v *validator.Validate
}

// New creates a new Validator instance.
// Domain-specific validation rules can be registered using RegisterValidation.
func New() *Validator {
	return &Validator{
		v: validator.New(),
	}
}

// Struct validates a struct based on validation tags.
func (val *Validator) Struct(s interface{}) error {
	return val.v.Struct(s)
}

// Var validates a single variable against a tag.
func (val *Validator) Var(field interface{}, tag string) error {
	return val.v.Var(field, tag)
}

// RegisterValidation registers a custom validation function.
func (val *Validator) RegisterValidation(tag string, fn validator.Func) error {
	return val.v.RegisterValidation(tag, fn)
}

// FieldErrors flattens validation failures into "field: tag" messages
// suitable for an error response's details.
func FieldErrors(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		if err == nil {
			return nil
		}
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Sprintf("%s: %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return out
}
