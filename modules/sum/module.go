// Package sum provides the "sum" module, a weighted sum of several inputs.
package sum

import (
	"context"
	"fmt"
	"slices"

	"github.com/vk/meshrun/internal/clock"
	"github.com/vk/meshrun/internal/mesh"
	"github.com/vk/meshrun/internal/module"
	"github.com/vk/meshrun/internal/registry"
)

const Type = "sum"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Config is the body of a sum module block. Weights default to 1 and, when
// given, must match Inputs in length.
type Config struct {
	Inputs  []string  `hcl:"inputs"`
	Output  string    `hcl:"output"`
	Weights []float64 `hcl:"weights,optional"`
}

type Sum struct {
	desc    module.Descriptor
	weights []float64
}

func New(name string, cfg *Config) (*Sum, error) {
	if len(cfg.Inputs) == 0 {
		return nil, fmt.Errorf("sum needs at least one input")
	}
	if slices.Contains(cfg.Inputs, cfg.Output) {
		return nil, fmt.Errorf("output %q is also an input", cfg.Output)
	}
	weights := cfg.Weights
	if weights == nil {
		weights = make([]float64, len(cfg.Inputs))
		for i := range weights {
			weights[i] = 1
		}
	}
	if len(weights) != len(cfg.Inputs) {
		return nil, fmt.Errorf("got %d weights for %d inputs", len(weights), len(cfg.Inputs))
	}
	return &Sum{
		desc: module.Descriptor{
			Type:    Type,
			Name:    name,
			Inputs:  slices.Clone(cfg.Inputs),
			Outputs: []string{cfg.Output},
		},
		weights: weights,
	}, nil
}

func (s *Sum) Descriptor() module.Descriptor { return s.desc }

func (s *Sum) Run(_ context.Context, m *mesh.Mesh, _ clock.Tick) error {
	out, err := m.Field(s.desc.Outputs[0])
	if err != nil {
		return err
	}
	clear(out)
	for i, name := range s.desc.Inputs {
		in, err := m.Field(name)
		if err != nil {
			return err
		}
		for e := range out {
			out[e] += s.weights[i] * in[e]
		}
	}
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
