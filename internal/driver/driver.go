package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vk/meshrun/internal/checkpoint"
	"github.com/vk/meshrun/internal/clock"
	"github.com/vk/meshrun/internal/ctxlog"
	"github.com/vk/meshrun/internal/events"
	"github.com/vk/meshrun/internal/executor"
	"github.com/vk/meshrun/internal/forcing"
	"github.com/vk/meshrun/internal/mesh"
	"github.com/vk/meshrun/internal/module"
	"github.com/vk/meshrun/internal/output"
	"github.com/vk/meshrun/internal/scheduler"
)

var (
	// ErrAborted is returned by Run when the context was cancelled.
	ErrAborted = errors.New("run aborted")
	// ErrInvalidState is returned when a method is called in the wrong state.
	ErrInvalidState = errors.New("invalid driver state")
	// ErrInvalidConfig is returned by Configure for an unusable Config.
	ErrInvalidConfig = errors.New("invalid driver configuration")
)

// DefaultAbortTimeout bounds the checkpoint written on the abort path.
const DefaultAbortTimeout = time.Minute

// State is a step of the driver lifecycle.
type State int

const (
	Uninitialized State = iota
	Configured
	Running
	Checkpointing
	Terminating
	Terminated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Configured:
		return "configured"
	case Running:
		return "running"
	case Checkpointing:
		return "checkpointing"
	case Terminating:
		return "terminating"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome is how a run ended.
type Outcome string

const (
	Completed Outcome = "completed"
	OutOfTime Outcome = "out_of_time"
	Aborted   Outcome = "aborted"
	Failed    Outcome = "failed"
)

// Config holds the collaborators of a Driver. Outputs, Store, Events and
// Tracer are optional.
type Config struct {
	RunID    string
	Modules  []module.Module
	Schedule *scheduler.Schedule
	Executor *executor.Executor
	Mesh     *mesh.Mesh
	Forcing  forcing.Provider

	Outputs     *output.Manager
	Checkpoints *checkpoint.Manager
	// Store is required when checkpointing is enabled or a LoadFrom
	// location is set.
	Store checkpoint.Store

	// OutputDir receives the completion marker. Empty disables the marker.
	OutputDir string
	// NotifyScript is run after termination with the outcome and run id as
	// arguments.
	NotifyScript string
	AbortTimeout time.Duration

	Events events.Publisher
	Tracer trace.Tracer
	Now    func() time.Time
}

// Result describes a finished run.
type Result struct {
	Outcome Outcome
	Clean   bool
	// FirstTimestep is the first timestep run by this process.
	FirstTimestep int
	// LastTimestep is the last fully completed timestep, or FirstTimestep-1
	// when none completed.
	LastTimestep int
	Checkpoints  []int
}

// Status is a point-in-time view of the driver for monitoring.
type Status struct {
	State    string    `json:"state"`
	Timestep int       `json:"timestep"`
	Date     time.Time `json:"date"`
	Total    int       `json:"total"`
}

// Driver runs the timestep loop of one rank.
type Driver struct {
	cfg    Config
	clock  *clock.Clock
	chunks [][]module.Module

	// settled is the mesh state from before the running timestep, kept
	// until that timestep completes.
	settled []byte

	mu        sync.RWMutex
	state     State
	completed int
	date      time.Time
}

// New returns a Driver in the Uninitialized state.
func New(cfg Config) *Driver {
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("meshrun")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.AbortTimeout <= 0 {
		cfg.AbortTimeout = DefaultAbortTimeout
	}
	return &Driver{cfg: cfg, state: Uninitialized, completed: -1}
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Status reports the state together with the last completed timestep.
func (d *Driver) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s := Status{State: d.state.String(), Timestep: d.completed, Date: d.date}
	if d.clock != nil {
		s.Total = d.clock.Total()
	}
	return s
}

func (d *Driver) setState(ctx context.Context, s State) {
	d.mu.Lock()
	prev := d.state
	d.state = s
	d.mu.Unlock()
	ctxlog.FromContext(ctx).Debug("Driver state changed.", "from", prev, "to", s)
}

func (d *Driver) markCompleted(tick clock.Tick) {
	d.settled = nil
	d.mu.Lock()
	d.completed = tick.Index
	d.date = tick.Date
	d.mu.Unlock()
}

func (d *Driver) lastCompleted() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.completed
}

// Configure validates the configuration, builds the clock and restores a
// checkpoint when one is requested. It moves the driver to Configured.
func (d *Driver) Configure(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	if st := d.State(); st != Uninitialized {
		return fmt.Errorf("%w: Configure called in state %s", ErrInvalidState, st)
	}
	if err := d.validate(); err != nil {
		return err
	}

	chunks := make([][]module.Module, len(d.cfg.Schedule.Chunks))
	for i, chunk := range d.cfg.Schedule.Chunks {
		for _, idx := range chunk {
			chunks[i] = append(chunks[i], d.cfg.Modules[idx])
		}
	}
	d.chunks = chunks

	start, end, step := d.cfg.Forcing.Range()
	clk, err := clock.New(start, end, step)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	d.mu.Lock()
	d.clock = clk
	d.mu.Unlock()

	d.cfg.Mesh.Declare(d.cfg.Forcing.Variables()...)
	for _, mod := range d.cfg.Modules {
		d.cfg.Mesh.Declare(mod.Descriptor().Outputs...)
	}
	for _, mod := range d.cfg.Modules {
		initializer, ok := mod.(module.Initializer)
		if !ok {
			continue
		}
		if err := initializer.Init(ctx, d.cfg.Mesh); err != nil {
			return &executor.ModuleError{Module: mod.Descriptor().Name, Timestep: -1, Err: err}
		}
	}

	if loadFrom := d.cfg.Checkpoints.Options().LoadFrom; loadFrom != "" {
		if err := d.restore(ctx, loadFrom); err != nil {
			return err
		}
	}

	d.setState(ctx, Configured)
	logger.Info("Driver configured.",
		"modules", len(d.cfg.Modules),
		"chunks", len(d.chunks),
		"first_timestep", d.clock.Index(),
		"timesteps", d.clock.Remaining(),
		"start", start,
		"end", end,
		"step", step,
	)
	return nil
}

func (d *Driver) validate() error {
	switch {
	case d.cfg.Schedule == nil:
		return fmt.Errorf("%w: no schedule", ErrInvalidConfig)
	case len(d.cfg.Schedule.Order()) != len(d.cfg.Modules):
		return fmt.Errorf("%w: schedule covers %d modules, have %d", ErrInvalidConfig, len(d.cfg.Schedule.Order()), len(d.cfg.Modules))
	case d.cfg.Executor == nil:
		return fmt.Errorf("%w: no executor", ErrInvalidConfig)
	case d.cfg.Mesh == nil:
		return fmt.Errorf("%w: no mesh", ErrInvalidConfig)
	case d.cfg.Forcing == nil:
		return fmt.Errorf("%w: no forcing provider", ErrInvalidConfig)
	case d.cfg.Checkpoints == nil:
		return fmt.Errorf("%w: no checkpoint manager", ErrInvalidConfig)
	}
	for _, idx := range d.cfg.Schedule.Order() {
		if idx < 0 || idx >= len(d.cfg.Modules) {
			return fmt.Errorf("%w: schedule references module %d, have %d", ErrInvalidConfig, idx, len(d.cfg.Modules))
		}
	}
	opts := d.cfg.Checkpoints.Options()
	if (opts.Enabled || opts.LoadFrom != "") && d.cfg.Store == nil {
		return fmt.Errorf("%w: checkpointing requires a store", ErrInvalidConfig)
	}
	return nil
}

func (d *Driver) restore(ctx context.Context, loadFrom string) error {
	logger := ctxlog.FromContext(ctx)

	location := loadFrom
	if loadFrom == checkpoint.Latest {
		var err error
		if location, err = d.cfg.Store.Latest(ctx); err != nil {
			return fmt.Errorf("failed to locate latest checkpoint: %w", err)
		}
	}
	snap, err := d.cfg.Store.Read(ctx, location)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if snap.Ranks != d.cfg.Mesh.Ranks() || snap.Rank != d.cfg.Mesh.Rank() {
		return fmt.Errorf("%w: checkpoint %s was written by rank %d of %d, this is rank %d of %d",
			ErrInvalidConfig, location, snap.Rank, snap.Ranks, d.cfg.Mesh.Rank(), d.cfg.Mesh.Ranks())
	}
	if err := d.cfg.Mesh.Restore(snap.Payload); err != nil {
		return fmt.Errorf("failed to restore checkpoint %s: %w", location, err)
	}
	if err := d.clock.Resume(snap.Timestep); err != nil {
		return fmt.Errorf("%w: checkpoint %s: %w", ErrInvalidConfig, location, err)
	}

	d.mu.Lock()
	d.completed = snap.Timestep
	d.date = d.clock.DateAt(snap.Timestep)
	d.mu.Unlock()

	if !snap.Clean {
		logger.Warn("Resuming from a checkpoint written on the abort path.", "location", location)
	}
	logger.Info("Checkpoint loaded.", "location", location, "timestep", snap.Timestep, "run_id", snap.RunID)
	return nil
}
