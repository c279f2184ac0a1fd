// Package linear provides the "linear" module: output = coefficient * input + offset
// on every element.
package linear

import (
	"context"
	"fmt"

	"github.com/vk/meshrun/internal/clock"
	"github.com/vk/meshrun/internal/mesh"
	"github.com/vk/meshrun/internal/module"
	"github.com/vk/meshrun/internal/registry"
)

// Type is the block label selecting this module.
const Type = "linear"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Config is the body of a linear module block.
type Config struct {
	Input       string   `hcl:"input"`
	Output      string   `hcl:"output"`
	Coefficient *float64 `hcl:"coefficient,optional"`
	Offset      float64  `hcl:"offset,optional"`
	Workers     int      `hcl:"workers,optional"`
}

// Linear is a built module instance.
type Linear struct {
	desc        module.Descriptor
	coefficient float64
	offset      float64
	workers     int
}

// New builds a linear module. The coefficient defaults to 1.
func New(name string, cfg *Config) (*Linear, error) {
	if cfg.Input == cfg.Output {
		return nil, fmt.Errorf("input and output must differ, both are %q", cfg.Input)
	}
	coefficient := 1.0
	if cfg.Coefficient != nil {
		coefficient = *cfg.Coefficient
	}
	return &Linear{
		desc: module.Descriptor{
			Type:    Type,
			Name:    name,
			Inputs:  []string{cfg.Input},
			Outputs: []string{cfg.Output},
		},
		coefficient: coefficient,
		offset:      cfg.Offset,
		workers:     max(cfg.Workers, 1),
	}, nil
}

func (l *Linear) Descriptor() module.Descriptor { return l.desc }

func (l *Linear) Run(ctx context.Context, m *mesh.Mesh, _ clock.Tick) error {
	in, err := m.Field(l.desc.Inputs[0])
	if err != nil {
		return err
	}
	out, err := m.Field(l.desc.Outputs[0])
	if err != nil {
		return err
	}
	return mesh.ParallelFor(ctx, m.Len(), l.workers, func(_ context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			out[i] = l.coefficient*in[i] + l.offset
		}
		return nil
	})
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
