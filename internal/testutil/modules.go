package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/vk/meshrun/internal/clock"
	"github.com/vk/meshrun/internal/mesh"
	"github.com/vk/meshrun/internal/module"
)

// Descriptor is shorthand for building a module descriptor in tests.
func Descriptor(name string, inputs, outputs []string) module.Descriptor {
	return module.Descriptor{Type: "fake", Name: name, Inputs: inputs, Outputs: outputs}
}

// ExecutionRecord holds the start and end times of one module run.
type ExecutionRecord struct {
	Timestep int
	Start    time.Time
	End      time.Time
}

// Recorder collects module runs across all fake modules of a test.
type Recorder struct {
	mu   sync.Mutex
	runs map[string][]ExecutionRecord
	seq  []string
}

func NewRecorder() *Recorder {
	return &Recorder{runs: make(map[string][]ExecutionRecord)}
}

func (r *Recorder) record(name string, rec ExecutionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[name] = append(r.runs[name], rec)
	r.seq = append(r.seq, name)
}

// Runs returns the recorded runs of a module.
func (r *Recorder) Runs(name string) []ExecutionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ExecutionRecord(nil), r.runs[name]...)
}

// Sequence returns module names in completion order.
func (r *Recorder) Sequence() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seq...)
}

// FakeModule sums its inputs into each of its outputs on every element, then
// adds one. It can sleep, fail at a given timestep, or call a hook.
type FakeModule struct {
	Desc     module.Descriptor
	Recorder *Recorder
	Sleep    time.Duration
	// FailAt makes Run return Err at that timestep when Err is set.
	FailAt int
	Err    error
	// OnRun is called at the start of every run when set.
	OnRun func(ctx context.Context, tick clock.Tick)
}

func (f *FakeModule) Descriptor() module.Descriptor { return f.Desc }

func (f *FakeModule) Run(ctx context.Context, m *mesh.Mesh, tick clock.Tick) error {
	start := time.Now()
	if f.OnRun != nil {
		f.OnRun(ctx, tick)
	}
	if f.Sleep > 0 {
		select {
		case <-time.After(f.Sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.Err != nil && tick.Index == f.FailAt {
		return f.Err
	}

	inputs := make([][]float64, 0, len(f.Desc.Inputs))
	for _, name := range f.Desc.Inputs {
		in, err := m.Field(name)
		if err != nil {
			return err
		}
		inputs = append(inputs, in)
	}
	for _, name := range f.Desc.Outputs {
		out, err := m.Field(name)
		if err != nil {
			return err
		}
		for i := range out {
			v := 1.0
			for _, in := range inputs {
				v += in[i]
			}
			out[i] = v
		}
	}

	if f.Recorder != nil {
		f.Recorder.record(f.Desc.Name, ExecutionRecord{Timestep: tick.Index, Start: start, End: time.Now()})
	}
	return nil
}

// Fakes builds one FakeModule per descriptor, all sharing rec.
func Fakes(rec *Recorder, descs ...module.Descriptor) []module.Module {
	mods := make([]module.Module, len(descs))
	for i, d := range descs {
		mods[i] = &FakeModule{Desc: d, Recorder: rec}
	}
	return mods
}
