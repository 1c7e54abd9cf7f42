// Package command contains write operations (CQRS - Commands).
package command

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateCommand runs struct tag validation and wraps failures as
// shared.ErrValidation so presentation maps them to 400.
func validateCommand(op string, cmd any) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field()+" "+fe.Tag())
		}
		return shared.WrapError("command", op, shared.ErrValidation, strings.Join(fields, ", "), err)
	}
	return shared.WrapError("command", op, shared.ErrValidation, "invalid command", err)
}
