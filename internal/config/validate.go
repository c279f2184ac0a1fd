package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the structural rules of the model: required fields, value
// ranges and sink-specific attributes, plus unique module and output names.
func Validate(m *Model) error {
	if err := validate.Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	modules := make(map[string]string, len(m.Modules))
	for _, spec := range m.Modules {
		if prev, ok := modules[spec.Name]; ok {
			return fmt.Errorf("%w: module %q declared twice (%s and %s)", ErrInvalid, spec.Name, prev, spec.Origin)
		}
		modules[spec.Name] = spec.Origin
	}
	outputs := make(map[string]bool, len(m.Outputs))
	for _, o := range m.Outputs {
		if outputs[o.Name] {
			return fmt.Errorf("%w: output %q declared twice", ErrInvalid, o.Name)
		}
		outputs[o.Name] = true
	}
	return nil
}
