package hcl

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"

	"github.com/vk/meshrun/internal/config"
	"github.com/vk/meshrun/internal/ctxlog"
)

// Converter is the HCL implementation of config.Converter.
type Converter struct {
	evalCtx *hcl.EvalContext
}

// NewConverter creates a converter evaluating expressions against evalCtx.
func NewConverter(evalCtx *hcl.EvalContext) *Converter {
	return &Converter{evalCtx: evalCtx}
}

// DecodeBody decodes the body of a module block into target, a pointer to a
// struct with gohcl tags. A spec without a body decodes as an empty block.
func (c *Converter) DecodeBody(ctx context.Context, spec *config.ModuleSpec, target any) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Decoding module body.", "module", spec.Name, "type", spec.Type, "target", fmt.Sprintf("%T", target))

	body := hcl.EmptyBody()
	if spec.Body != nil {
		b, ok := spec.Body.(hcl.Body)
		if !ok {
			return fmt.Errorf("module %q: body of type %T is not an HCL body", spec.Name, spec.Body)
		}
		body = b
	}

	if diags := gohcl.DecodeBody(body, c.evalCtx, target); diags.HasErrors() {
		return fmt.Errorf("module %q (%s): %w", spec.Name, spec.Origin, diags)
	}
	return nil
}
