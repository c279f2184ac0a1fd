// Package module defines the contract between the execution core and the
// computational units it schedules.
package module

import (
	"context"

	"github.com/vk/meshrun/internal/clock"
	"github.com/vk/meshrun/internal/mesh"
)

// Descriptor names a module and the variables it reads and writes.
type Descriptor struct {
	Type    string
	Name    string
	Inputs  []string
	Outputs []string
}

// Module is a unit of computation run once per timestep over the local mesh.
type Module interface {
	Descriptor() Descriptor
	Run(ctx context.Context, m *mesh.Mesh, tick clock.Tick) error
}

// Initializer is implemented by modules that need to set up state once,
// after the mesh is allocated and before the first timestep.
type Initializer interface {
	Init(ctx context.Context, m *mesh.Mesh) error
}

// Descriptors collects the descriptors of mods in order.
func Descriptors(mods []Module) []Descriptor {
	out := make([]Descriptor, len(mods))
	for i, m := range mods {
		out[i] = m.Descriptor()
	}
	return out
}
