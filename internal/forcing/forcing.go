// Package forcing supplies the variables that exist without a producing
// module: time-varying forcing, static parameters and initial conditions.
package forcing

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/vk/meshrun/internal/clock"
	"github.com/vk/meshrun/internal/mesh"
)

// Provider supplies forcing variables and the simulation time range they cover.
type Provider interface {
	// Variables lists the forcing variable names, sorted.
	Variables() []string
	// Range returns the first and last forcing timestamps and the step between them.
	Range() (start, end time.Time, step time.Duration)
	// Apply writes forcing values for tick into the mesh.
	Apply(ctx context.Context, tick clock.Tick, m *mesh.Mesh) error
}

// Synthetic is a Provider whose values are a constant mean plus an optional
// diurnal sine cycle peaking at 15:00 simulated time.
type Synthetic struct {
	start     time.Time
	end       time.Time
	step      time.Duration
	mean      map[string]float64
	amplitude map[string]float64
}

// NewSynthetic builds a Synthetic provider. Every amplitude key must also
// have a mean.
func NewSynthetic(start, end time.Time, step time.Duration, mean, amplitude map[string]float64) (*Synthetic, error) {
	for name := range amplitude {
		if _, ok := mean[name]; !ok {
			return nil, fmt.Errorf("forcing amplitude given for %q without a value", name)
		}
	}
	return &Synthetic{
		start:     start,
		end:       end,
		step:      step,
		mean:      maps.Clone(mean),
		amplitude: maps.Clone(amplitude),
	}, nil
}

func (s *Synthetic) Variables() []string {
	return slices.Sorted(maps.Keys(s.mean))
}

func (s *Synthetic) Range() (time.Time, time.Time, time.Duration) {
	return s.start, s.end, s.step
}

// Value returns the forcing value of name at date.
func (s *Synthetic) Value(name string, date time.Time) float64 {
	v := s.mean[name]
	if a, ok := s.amplitude[name]; ok {
		hour := float64(date.Hour()) + float64(date.Minute())/60
		v += a * math.Cos(2*math.Pi*(hour-15)/24)
	}
	return v
}

func (s *Synthetic) Apply(_ context.Context, tick clock.Tick, m *mesh.Mesh) error {
	for _, name := range s.Variables() {
		if err := m.Fill(name, s.Value(name, tick.Date)); err != nil {
			return fmt.Errorf("failed to apply forcing %q: %w", name, err)
		}
	}
	return nil
}

// Initialize declares the given static variables (parameters or initial
// conditions) on the mesh and fills them with their values.
func Initialize(m *mesh.Mesh, values map[string]float64) error {
	for _, name := range slices.Sorted(maps.Keys(values)) {
		m.Declare(name)
		if err := m.Fill(name, values[name]); err != nil {
			return err
		}
	}
	return nil
}
