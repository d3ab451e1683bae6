package core

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// validateLoose checks that method and url were supplied as strings.
func validateLoose(loose LooseRequest) error {
	err := validate.Struct(loose)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		missing := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			missing = append(missing, strings.ToLower(fe.Field()))
		}
		return Errorf(KindInvalidRequest, "normalize request", "missing required field(s): %s", strings.Join(missing, ", "))
	}
	return Wrap(KindInvalidRequest, "normalize request", err)
}
