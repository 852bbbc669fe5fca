package domain

import (
	"errors"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

func ValidateEvent(e InteractionEvent) error {
	return toValidationError(getValidator().Struct(e))
}

func ValidateMaterial(m Material) error {
	return toValidationError(getValidator().Struct(m))
}

func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: fe.Field(), Reason: fe.Tag()}
	}
	return &ValidationError{Field: "value", Reason: err.Error()}
}
