// Package print provides the "print" module, which logs a summary of its
// input variables over the local mesh. It produces no variables.
package print

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/vk/meshrun/internal/clock"
	"github.com/vk/meshrun/internal/ctxlog"
	"github.com/vk/meshrun/internal/mesh"
	"github.com/vk/meshrun/internal/module"
	"github.com/vk/meshrun/internal/registry"
)

const Type = "print"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Config is the body of a print module block.
type Config struct {
	Inputs []string `hcl:"inputs"`
	// Every prints on timesteps that are a multiple of it; it defaults to 1.
	Every int `hcl:"every,optional"`
}

type Print struct {
	desc  module.Descriptor
	every int
}

func New(name string, cfg *Config) (*Print, error) {
	if len(cfg.Inputs) == 0 {
		return nil, fmt.Errorf("at least one input is required")
	}
	if cfg.Every < 0 {
		return nil, fmt.Errorf("every must not be negative, got %d", cfg.Every)
	}
	return &Print{
		desc:  module.Descriptor{Type: Type, Name: name, Inputs: cfg.Inputs},
		every: max(cfg.Every, 1),
	}, nil
}

func (p *Print) Descriptor() module.Descriptor { return p.desc }

// Summary is the min, mean and max of a field.
type Summary struct {
	Min, Mean, Max float64
}

func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("min", s.Min),
		slog.Float64("mean", s.Mean),
		slog.Float64("max", s.Max),
	)
}

// Summarize computes the summary of values. An empty slice yields NaNs.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{Min: math.NaN(), Mean: math.NaN(), Max: math.NaN()}
	}
	s := Summary{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, v := range values {
		s.Min = min(s.Min, v)
		s.Max = max(s.Max, v)
		sum += v
	}
	s.Mean = sum / float64(len(values))
	return s
}

func (p *Print) Run(ctx context.Context, m *mesh.Mesh, tick clock.Tick) error {
	if tick.Index%p.every != 0 {
		return nil
	}
	args := []any{"module", p.desc.Name, "timestep", tick.Index, "date", tick.Date}
	for _, name := range p.desc.Inputs {
		values, err := m.Field(name)
		if err != nil {
			return err
		}
		args = append(args, name, Summarize(values))
	}
	ctxlog.FromContext(ctx).Info("Printing mesh variables", args...)
	return nil
}

// Register registers the factory with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterFactory(Type, &registry.Factory{
		NewConfig: func() any { return new(Config) },
		Build: func(name string, cfg any) (module.Module, error) {
			return New(name, cfg.(*Config))
		},
	})
}
