package hcl

import (
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// newEvalContext exposes the process environment as env.NAME and a small
// set of string and numeric functions.
func newEvalContext(environ []string) *hcl.EvalContext {
	env := make(map[string]cty.Value, len(environ))
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			continue
		}
		env[name] = cty.StringVal(value)
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(env),
		},
		Functions: map[string]function.Function{
			"upper":    stdlib.UpperFunc,
			"lower":    stdlib.LowerFunc,
			"format":   stdlib.FormatFunc,
			"concat":   stdlib.ConcatFunc,
			"min":      stdlib.MinFunc,
			"max":      stdlib.MaxFunc,
			"coalesce": stdlib.CoalesceFunc,
		},
	}
}
