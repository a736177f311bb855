package serrors

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// BaseError is a structured error with a stable machine-readable code.
type BaseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *BaseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code, message, field string) *BaseError {
	return &BaseError{Code: code, Message: message, Field: field}
}

func NewFieldRequiredError(field string) *BaseError {
	return &BaseError{
		Code:    "FIELD_REQUIRED",
		Message: fmt.Sprintf("%s is required", field),
		Field:   field,
	}
}

// ValidationErrors maps field names to structured errors, as produced from a
// validator.ValidationErrors value.
type ValidationErrors map[string]*BaseError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// ProcessValidatorErrors converts go-playground validator output into
// ValidationErrors. Non-validator errors pass through unchanged.
func ProcessValidatorErrors(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	out := ValidationErrors{}
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			out[field] = NewFieldRequiredError(field)
		case "oneof":
			out[field] = NewError(
				"FIELD_INVALID",
				fmt.Sprintf("%s must be one of: %s", field, fe.Param()),
				field,
			)
		default:
			out[field] = NewError(
				"FIELD_INVALID",
				fmt.Sprintf("%s failed %s validation", field, fe.Tag()),
				field,
			)
		}
	}
	return out
}
