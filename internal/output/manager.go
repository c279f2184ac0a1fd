package output

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/vk/meshrun/internal/clock"
	"github.com/vk/meshrun/internal/ctxlog"
	"github.com/vk/meshrun/internal/mesh"
)

// Kind distinguishes point time series from whole-mesh outputs.
type Kind string

const (
	TimeSeries Kind = "timeseries"
	MeshKind   Kind = "mesh"
)

// Descriptor is one requested output.
type Descriptor struct {
	Name      string
	Kind      Kind
	Variables []string
	// Element is the global mesh element of a time series output.
	Element int
	Policy  Policy
	Sink    Sink
}

// Manager evaluates every output once per timestep.
type Manager struct {
	outputs []*Descriptor
}

// NewManager validates the descriptors and returns a manager for them.
func NewManager(outputs ...*Descriptor) (*Manager, error) {
	seen := make(map[string]bool, len(outputs))
	for _, d := range outputs {
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate output %q", d.Name)
		}
		seen[d.Name] = true
		if d.Sink == nil {
			return nil, fmt.Errorf("output %q has no sink", d.Name)
		}
		if len(d.Variables) == 0 {
			return nil, fmt.Errorf("output %q selects no variables", d.Name)
		}
		if d.Kind != TimeSeries && d.Kind != MeshKind {
			return nil, fmt.Errorf("output %q has unknown kind %q", d.Name, d.Kind)
		}
	}
	return &Manager{outputs: outputs}, nil
}

// Outputs returns the managed descriptors.
func (m *Manager) Outputs() []*Descriptor {
	return slices.Clone(m.outputs)
}

// Variables returns every variable selected by any output, sorted and unique.
func (m *Manager) Variables() []string {
	var vars []string
	for _, d := range m.outputs {
		vars = append(vars, d.Variables...)
	}
	slices.Sort(vars)
	return slices.Compact(vars)
}

// LogTriggers writes each output's trigger settings at debug level.
func (m *Manager) LogTriggers(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	for _, d := range m.outputs {
		logger.Debug("Output trigger options.", "output", d.Name, "kind", d.Kind, "triggers", d.Policy)
	}
}

// Emit writes every output whose triggers match tick to its sink and returns
// the number of records written. Time series are written only by the rank
// owning their element.
func (m *Manager) Emit(ctx context.Context, tick clock.Tick, msh *mesh.Mesh) (int, error) {
	logger := ctxlog.FromContext(ctx)
	written := 0
	for _, d := range m.outputs {
		if !ShouldOutput(tick.Max, tick.Index, tick.Date, d.Policy) {
			continue
		}
		rec, ok, err := d.record(tick, msh)
		if err != nil {
			return written, &SinkError{Op: "collect", Output: d.Name, Err: err}
		}
		if !ok {
			continue
		}
		if err := d.Sink.Write(ctx, rec); err != nil {
			return written, &SinkError{Op: "write", Output: d.Name, Err: err}
		}
		logger.Debug("Output written.", "output", d.Name, "timestep", tick.Index)
		written++
	}
	return written, nil
}

func (d *Descriptor) record(tick clock.Tick, msh *mesh.Mesh) (Record, bool, error) {
	rec := Record{
		Output:   d.Name,
		Kind:     d.Kind,
		Timestep: tick.Index,
		Date:     tick.Date,
		Rank:     msh.Rank(),
		Offset:   msh.Offset(),
		Values:   make(map[string][]float64, len(d.Variables)),
	}
	lo, hi := 0, msh.Len()
	if d.Kind == TimeSeries {
		local, ok := msh.Owns(d.Element)
		if !ok {
			return Record{}, false, nil
		}
		lo, hi = local, local+1
		rec.Offset = d.Element
	}
	for _, v := range d.Variables {
		f, err := msh.Field(v)
		if err != nil {
			return Record{}, false, err
		}
		rec.Values[v] = slices.Clone(f[lo:hi])
	}
	return rec, true, nil
}

// Close closes every sink and joins their errors.
func (m *Manager) Close() error {
	var errs []error
	for _, d := range m.outputs {
		if err := d.Sink.Close(); err != nil {
			errs = append(errs, &SinkError{Op: "close", Output: d.Name, Err: err})
		}
	}
	return errors.Join(errs...)
}
