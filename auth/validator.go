package auth

import (
	"fmt"

	"chat-sync/errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func ValidateClaims(claims CustomClaims) error {
	if err := validate.Struct(claims); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidToken, err)
	}
	return nil
}
