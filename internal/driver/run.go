package driver

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vk/meshrun/internal/checkpoint"
	"github.com/vk/meshrun/internal/clock"
	"github.com/vk/meshrun/internal/ctxlog"
	"github.com/vk/meshrun/internal/events"
	"github.com/vk/meshrun/internal/module"
	"github.com/vk/meshrun/internal/telemetry"
)

// errCheckpointWrite marks failures of the checkpoint write itself, after
// which the abort path does not try again.
var errCheckpointWrite = errors.New("checkpoint write failed")

// Run executes the timestep loop until the clock ends, the checkpoint
// manager requests termination, the context is cancelled or a step fails.
// The driver always ends in Terminated. The returned error wraps ErrAborted
// for a cancelled context and is the underlying failure otherwise.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	if st := d.State(); st != Configured {
		return Result{}, fmt.Errorf("%w: Run called in state %s", ErrInvalidState, st)
	}
	logger := ctxlog.FromContext(ctx).With("rank", d.cfg.Mesh.Rank())
	ctx = ctxlog.WithLogger(ctx, logger)

	res := Result{FirstTimestep: d.clock.Index()}
	d.setState(ctx, Running)
	d.publish(ctx, events.RunStarted, res.FirstTimestep, map[string]any{
		"modules":   len(d.cfg.Modules),
		"timesteps": d.clock.Remaining(),
	})
	logger.Info("🚀 Starting timestep loop...", "first_timestep", res.FirstTimestep, "timesteps", d.clock.Remaining())

	var runErr error
	for !d.clock.Done() {
		if err := ctx.Err(); err != nil {
			res.Outcome, runErr = Aborted, fmt.Errorf("%w: %w", ErrAborted, err)
			break
		}

		tick := d.clock.Next()
		written, err := d.step(ctx, tick)
		if written {
			res.Checkpoints = append(res.Checkpoints, tick.Index)
		}
		if err != nil {
			res.Outcome, runErr = d.classify(ctx, err)
			break
		}

		if d.cfg.Checkpoints.TerminateRequested() && !d.clock.Done() {
			res.Outcome = OutOfTime
			logger.Warn("Stopping early to stay within the wall-clock limit.", "timestep", tick.Index)
			break
		}
	}
	if res.Outcome == "" {
		res.Outcome = Completed
	}
	res.Clean = res.Outcome == Completed
	res.LastTimestep = max(d.lastCompleted(), res.FirstTimestep-1)

	d.setState(ctx, Terminating)
	if !res.Clean && !errors.Is(runErr, errCheckpointWrite) {
		if ok := d.abortCheckpoint(ctx, res); ok {
			res.Checkpoints = append(res.Checkpoints, res.LastTimestep)
		}
	}
	d.finish(ctx, res)
	d.setState(ctx, Terminated)

	logger.Info("🏁 Run finished.", "outcome", res.Outcome, "last_timestep", res.LastTimestep, "checkpoints", res.Checkpoints)
	return res, runErr
}

// classify maps a step failure to the outcome of the run. Any failure seen
// after the context was cancelled counts as an abort.
func (d *Driver) classify(ctx context.Context, err error) (Outcome, error) {
	if ctx.Err() != nil {
		return Aborted, fmt.Errorf("%w: %w", ErrAborted, err)
	}
	ctxlog.FromContext(ctx).Error("Timestep failed.", "error", err)
	return Failed, err
}

// step runs one timestep under its own span and reports whether a
// checkpoint was written for it.
func (d *Driver) step(ctx context.Context, tick clock.Tick) (bool, error) {
	ctx = ctxlog.With(ctx, "timestep", tick.Index)
	ctx, span := d.cfg.Tracer.Start(ctx, "timestep", trace.WithAttributes(
		telemetry.RunIDKey.String(d.cfg.RunID),
		telemetry.RankKey.Int(d.cfg.Mesh.Rank()),
		telemetry.TimestepKey.Int(tick.Index),
	))
	defer span.End()

	written, err := d.advance(ctx, tick)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return written, err
}

func (d *Driver) advance(ctx context.Context, tick clock.Tick) (bool, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Timestep started.", "date", tick.Date)

	if d.cfg.Checkpoints.Options().Enabled {
		settled, err := d.cfg.Mesh.Snapshot()
		if err != nil {
			return false, err
		}
		d.settled = settled
	}

	if err := d.cfg.Forcing.Apply(ctx, tick, d.cfg.Mesh); err != nil {
		return false, fmt.Errorf("failed to apply forcing at timestep %d: %w", tick.Index, err)
	}
	for i, chunk := range d.chunks {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := d.runChunk(ctx, i, chunk, tick); err != nil {
			return false, err
		}
	}
	d.markCompleted(tick)

	if d.cfg.Outputs != nil {
		n, err := d.cfg.Outputs.Emit(ctx, tick, d.cfg.Mesh)
		if err != nil {
			return false, err
		}
		if n > 0 {
			logger.Debug("Outputs emitted.", "count", n)
		}
	}

	// Every rank reaches this call on every timestep.
	ok, err := d.cfg.Checkpoints.ShouldCheckpoint(ctx, tick.Index, tick.Last())
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	d.setState(ctx, Checkpointing)
	defer d.setState(ctx, Running)
	if err := d.writeCheckpoint(ctx, tick.Index, d.cfg.Checkpoints.LastReason(), true, nil); err != nil {
		return false, fmt.Errorf("%w: %w", errCheckpointWrite, err)
	}
	return true, nil
}

func (d *Driver) runChunk(ctx context.Context, i int, chunk []module.Module, tick clock.Tick) error {
	ctx, span := d.cfg.Tracer.Start(ctx, "chunk", trace.WithAttributes(
		telemetry.ChunkKey.Int(i),
		telemetry.ModulesKey.Int(len(chunk)),
	))
	defer span.End()

	if err := d.cfg.Executor.RunChunk(ctx, chunk, d.cfg.Mesh, tick); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// writeCheckpoint saves payload as the state after timestep ts. A nil
// payload snapshots the mesh as it is now.
func (d *Driver) writeCheckpoint(ctx context.Context, ts int, reason checkpoint.Reason, clean bool, payload []byte) error {
	logger := ctxlog.FromContext(ctx)

	if payload == nil {
		var err error
		if payload, err = d.cfg.Mesh.Snapshot(); err != nil {
			return err
		}
	}
	location, err := d.cfg.Store.Write(ctx, checkpoint.Snapshot{
		RunID:    d.cfg.RunID,
		Timestep: ts,
		Date:     d.clock.DateAt(ts),
		Rank:     d.cfg.Mesh.Rank(),
		Ranks:    d.cfg.Mesh.Ranks(),
		Reason:   reason,
		Clean:    clean,
		Written:  d.cfg.Now(),
		Payload:  payload,
	})
	if err != nil {
		return err
	}

	logger.Info("💾 Checkpoint written.", "timestep", ts, "reason", reason, "location", location)
	d.publish(ctx, events.CheckpointWritten, ts, map[string]any{
		"reason":   string(reason),
		"location": location,
		"clean":    clean,
	})
	return nil
}

// abortCheckpoint makes a best-effort attempt to save the last completed
// timestep of an unclean run. It reports whether a checkpoint was written.
func (d *Driver) abortCheckpoint(ctx context.Context, res Result) bool {
	logger := ctxlog.FromContext(ctx)

	switch {
	case !d.cfg.Checkpoints.Options().Enabled:
		return false
	case res.Outcome == OutOfTime:
		return false
	case res.LastTimestep < res.FirstTimestep:
		logger.Warn("No timestep completed, skipping final checkpoint.")
		return false
	case len(res.Checkpoints) > 0 && res.Checkpoints[len(res.Checkpoints)-1] == res.LastTimestep:
		return false
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.AbortTimeout)
	defer cancel()
	// A step that stopped part way may have left partial updates in the
	// mesh, so save the state taken before it started.
	if err := d.writeCheckpoint(ctx, res.LastTimestep, checkpoint.ReasonAbort, false, d.settled); err != nil {
		logger.Error("Final checkpoint failed.", "timestep", res.LastTimestep, "error", err)
		return false
	}
	return true
}

func (d *Driver) publish(ctx context.Context, typ events.Type, ts int, data map[string]any) {
	err := d.cfg.Events.Publish(ctx, events.Event{
		Type:     typ,
		RunID:    d.cfg.RunID,
		Rank:     d.cfg.Mesh.Rank(),
		Timestep: ts,
		Time:     d.cfg.Now(),
		Data:     data,
	})
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to publish lifecycle event.", "type", typ, "error", err)
	}
}
