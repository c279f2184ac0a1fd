// Package accumulate provides the "accumulate" module, a leaky store that
// integrates an input flux over simulated time.
//
// On every timestep each element is updated as
//
//	store = store*(1-loss) + input*hours
//
// where hours is the length of the timestep. The store is part of the mesh
// state, so it survives checkpoint and restart.
package accumulate

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/meshrun/internal/clock"
	"github.com/vk/meshrun/internal/mesh"
	"github.com/vk/meshrun/internal/module"
	"github.com/vk/meshrun/internal/registry"
)

const Type = "accumulate"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Config is the body of an accumulate module block.
type Config struct {
	Input   string  `hcl:"input"`
	Output  string  `hcl:"output"`
	Initial float64 `hcl:"initial,optional"`
	// Loss is the fraction of the store lost per timestep, in [0, 1].
	Loss float64 `hcl:"loss,optional"`
	// Step is the timestep length as a duration string; it defaults to one hour.
	Step string `hcl:"step,optional"`
}

type Accumulate struct {
	desc    module.Descriptor
	initial float64
	loss    float64
	hours   float64
}

func New(name string, cfg *Config) (*Accumulate, error) {
	if cfg.Input == cfg.Output {
		return nil, fmt.Errorf("input and output must differ, both are %q", cfg.Input)
	}
	if cfg.Loss < 0 || cfg.Loss > 1 {
		return nil, fmt.Errorf("loss %v outside [0, 1]", cfg.Loss)
	}
	step := time.Hour
	if cfg.Step != "" {
		d, err := time.ParseDuration(cfg.Step)
		if err != nil {
			return nil, fmt.Errorf("invalid step: %w", err)
		}
		step = d
	}
	return &Accumulate{
		desc: module.Descriptor{
			Type:    Type,
			Name:    name,
			Inputs:  []string{cfg.Input},
			Outputs: []string{cfg.Output},
		},
		initial: cfg.Initial,
		loss:    cfg.Loss,
		hours:   step.Hours(),
	}, nil
}

func (a *Accumulate) Descriptor() module.Descriptor { return a.desc }

// Init fills the store with its initial value.
func (a *Accumulate) Init(_ context.Context, m *mesh.Mesh) error {
	return m.Fill(a.desc.Outputs[0], a.initial)
}

func (a *Accumulate) Run(_ context.Context, m *mesh.Mesh, _ clock.Tick) error {
	in, err := m.Field(a.desc.Inputs[0])
	if err != nil {
		return err
	}
	store, err := m.Field(a.desc.Outputs[0])
	if err != nil {
		return err
	}
	for i := range store {
		store[i] = store[i]*(1-a.loss) + in[i]*a.hours
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
