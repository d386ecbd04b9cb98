package domain

import "github.com/go-playground/validator/v10"

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// ValidateStruct runs struct-tag validation (required/min/dive) over a
// Project or PipelineStep, catching the mechanical shape invariants of §3
// before the semantic invariants in Project.Validate/Pipeline.Valid run.
func ValidateStruct(v any) error {
	if err := structValidator.Struct(v); err != nil {
		return NewError(FailureValidation, err)
	}
	return nil
}
