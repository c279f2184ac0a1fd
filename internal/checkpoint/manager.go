package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/meshrun/internal/consensus"
	"github.com/vk/meshrun/internal/ctxlog"
	"github.com/vk/meshrun/internal/wallclock"
)

// DefaultSafetyMargin is the wall-clock time reserved for writing a final
// checkpoint before the limit.
const DefaultSafetyMargin = 2 * time.Minute

// Options configure checkpointing.
type Options struct {
	Enabled bool
	// Path is the checkpoint root: a directory or an s3://bucket/prefix URL.
	Path string
	// Frequency checkpoints every N timesteps, never at timestep 0.
	Frequency   *int
	OnLast      bool
	OnOutOfTime bool
	// SafetyMargin defaults to DefaultSafetyMargin when zero.
	SafetyMargin time.Duration
	// LoadFrom is the location of a checkpoint to resume from, or "latest".
	LoadFrom string
}

// Reason names the rule that triggered a checkpoint.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonLast      Reason = "last"
	ReasonFrequency Reason = "frequency"
	ReasonOutOfTime Reason = "out_of_time"
	ReasonAbort     Reason = "abort"
)

// Manager holds the checkpoint policy state of one rank.
type Manager struct {
	opts      Options
	budget    wallclock.Budget
	reducer   consensus.Reducer
	now       func() time.Time
	round     int
	terminate bool
	last      Reason
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithNow replaces the wall-clock source.
func WithNow(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates the policy of one rank. reducer must be shared with
// every other rank of the run.
func NewManager(opts Options, budget wallclock.Budget, reducer consensus.Reducer, options ...ManagerOption) *Manager {
	if opts.SafetyMargin <= 0 {
		opts.SafetyMargin = DefaultSafetyMargin
	}
	m := &Manager{opts: opts, budget: budget, reducer: reducer, now: time.Now}
	for _, o := range options {
		o(m)
	}
	return m
}

// Options returns the effective options.
func (m *Manager) Options() Options { return m.opts }

// TerminateRequested reports whether the out-of-time rule fired. Once true
// it stays true for the rest of the run.
func (m *Manager) TerminateRequested() bool { return m.terminate }

// LastReason returns the rule behind the most recent positive decision.
func (m *Manager) LastReason() Reason { return m.last }

// ShouldCheckpoint decides whether to checkpoint after currentTS. It must be
// called exactly once per timestep on every rank. The rules apply in order:
// disabled never checkpoints; the last timestep checkpoints when OnLast is
// set; a nonzero multiple of Frequency checkpoints; and finally, when any
// rank is within SafetyMargin of its wall-clock limit, every rank
// checkpoints and requests termination.
func (m *Manager) ShouldCheckpoint(ctx context.Context, currentTS int, isLast bool) (bool, error) {
	logger := ctxlog.FromContext(ctx)

	outOfTime, err := m.outOfTime(ctx)
	if err != nil {
		return false, err
	}
	if outOfTime && !m.terminate {
		logger.Warn("Wall-clock limit reached on at least one rank, requesting checkpoint and termination.", "timestep", currentTS)
		m.terminate = true
	}

	decision := m.decide(currentTS, isLast, outOfTime)
	if decision != ReasonNone {
		m.last = decision
		logger.Debug("Checkpoint requested.", "timestep", currentTS, "reason", decision)
	}
	return decision != ReasonNone, nil
}

func (m *Manager) decide(currentTS int, isLast, outOfTime bool) Reason {
	switch {
	case !m.opts.Enabled:
		return ReasonNone
	case m.opts.OnLast && isLast:
		return ReasonLast
	case m.opts.Frequency != nil && *m.opts.Frequency > 0 && currentTS != 0 && currentTS%*m.opts.Frequency == 0:
		return ReasonFrequency
	case outOfTime:
		return ReasonOutOfTime
	}
	return ReasonNone
}

// outOfTime runs the collective vote. It is reached on every call,
// including when this rank has nothing to report.
func (m *Manager) outOfTime(ctx context.Context) (bool, error) {
	local := m.opts.Enabled && m.opts.OnOutOfTime && m.budget.HasLimit &&
		m.budget.Remaining(m.now()) <= m.opts.SafetyMargin

	round := m.round
	m.round++
	combined, err := m.reducer.AnyTrue(ctx, round, local)
	if err != nil {
		return false, fmt.Errorf("checkpoint consensus round %d: %w", round, err)
	}
	return combined && m.opts.Enabled && m.opts.OnOutOfTime, nil
}
