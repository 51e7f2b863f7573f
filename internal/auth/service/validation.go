package service

import (
	"github.com/go-playground/validator/v10"
)

// validate holds the compiled struct validations for the input types.
// Bounds live in the struct tags; see RegisterInput and LoginInput.
var validate = validator.New(validator.WithRequiredStructEnabled())

// checkInput runs struct validation and folds any failure into the
// generic validation error, before anything touches storage.
func checkInput(input any) error {
	if err := validate.Struct(input); err != nil {
		return ErrValidation.WithCause(err)
	}
	return nil
}
