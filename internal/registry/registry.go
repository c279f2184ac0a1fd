package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/vk/meshrun/internal/config"
	"github.com/vk/meshrun/internal/ctxlog"
	"github.com/vk/meshrun/internal/module"
)

var (
	// ErrUnknownType is returned for a module block whose type has no factory.
	ErrUnknownType = errors.New("unknown module type")
	// ErrUnknownModule is returned when an override removes a module that
	// is not declared.
	ErrUnknownModule = errors.New("unknown module")
)

// Module is the interface that all built-in modules implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Factory builds modules of one type.
type Factory struct {
	// NewConfig returns a pointer to the struct the block body decodes into.
	NewConfig func() any
	// Build creates the module named name from the decoded config.
	Build func(name string, cfg any) (module.Module, error)
}

// Registry holds the module factories of one application instance.
type Registry struct {
	factories map[string]*Factory
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{factories: make(map[string]*Factory)}
}

// RegisterFactory adds the factory for a module type. Registering a type
// twice is a programming error and panics.
func (r *Registry) RegisterFactory(typ string, f *Factory) {
	if _, exists := r.factories[typ]; exists {
		panic(fmt.Sprintf("module type '%s' already registered", typ))
	}
	r.factories[typ] = f
}

// Types returns the registered module types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Instantiate decodes and builds every module spec, keeping declaration order.
func (r *Registry) Instantiate(ctx context.Context, specs []*config.ModuleSpec, conv config.Converter) ([]module.Module, error) {
	logger := ctxlog.FromContext(ctx)

	mods := make([]module.Module, 0, len(specs))
	for _, spec := range specs {
		f, ok := r.factories[spec.Type]
		if !ok {
			return nil, fmt.Errorf("%w %q for module %q (known: %s)", ErrUnknownType, spec.Type, spec.Name, strings.Join(r.Types(), ", "))
		}
		cfg := f.NewConfig()
		if err := conv.DecodeBody(ctx, spec, cfg); err != nil {
			return nil, err
		}
		mod, err := f.Build(spec.Name, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build module %q: %w", spec.Name, err)
		}
		desc := mod.Descriptor()
		logger.Debug("Module instantiated.", "module", desc.Name, "type", desc.Type, "inputs", desc.Inputs, "outputs", desc.Outputs)
		mods = append(mods, mod)
	}
	return mods, nil
}

// ApplyOverrides removes the named modules from specs and appends add. It
// returns a new slice and leaves specs untouched.
func ApplyOverrides(specs []*config.ModuleSpec, remove []string, add []*config.ModuleSpec) ([]*config.ModuleSpec, error) {
	drop := make(map[string]bool, len(remove))
	for _, name := range remove {
		drop[name] = true
	}

	out := make([]*config.ModuleSpec, 0, len(specs)+len(add))
	for _, s := range specs {
		if drop[s.Name] {
			delete(drop, s.Name)
			continue
		}
		out = append(out, s)
	}
	if len(drop) > 0 {
		missing := make([]string, 0, len(drop))
		for name := range drop {
			missing = append(missing, name)
		}
		slices.Sort(missing)
		return nil, fmt.Errorf("%w: cannot remove %s", ErrUnknownModule, strings.Join(missing, ", "))
	}
	return append(out, add...), nil
}
