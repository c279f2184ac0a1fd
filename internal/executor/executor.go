// Package executor runs the modules of one schedule chunk concurrently and
// waits for all of them before returning, forming the barrier between chunks.
package executor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vk/meshrun/internal/clock"
	"github.com/vk/meshrun/internal/ctxlog"
	"github.com/vk/meshrun/internal/mesh"
	"github.com/vk/meshrun/internal/module"
)

// ModuleError wraps a failure of a module at a given timestep.
type ModuleError struct {
	Module   string
	Timestep int
	Err      error
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("module %q failed at timestep %d: %v", e.Module, e.Timestep, e.Err)
}

func (e *ModuleError) Unwrap() error { return e.Err }

// Executor runs chunks on a bounded number of goroutines.
type Executor struct {
	workers int
}

// New creates an executor running at most workers modules at once. Values
// below one are treated as one.
func New(workers int) *Executor {
	return &Executor{workers: max(workers, 1)}
}

// Workers returns the concurrency limit.
func (e *Executor) Workers() int {
	return e.workers
}

// RunChunk runs every module of chunk against the mesh and returns once all
// of them have finished. The first failure cancels the remaining modules and
// is returned as a *ModuleError.
func (e *Executor) RunChunk(ctx context.Context, chunk []module.Module, m *mesh.Mesh, tick clock.Tick) error {
	logger := ctxlog.FromContext(ctx)

	if len(chunk) == 1 {
		return e.runModule(ctx, chunk[0], m, tick)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, mod := range chunk {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return e.runModule(gctx, mod, m, tick)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Debug("Chunk failed.", "timestep", tick.Index, "error", err)
		return err
	}
	return nil
}

func (e *Executor) runModule(ctx context.Context, mod module.Module, m *mesh.Mesh, tick clock.Tick) error {
	desc := mod.Descriptor()
	logger := ctxlog.FromContext(ctx).With("module", desc.Name)

	start := time.Now()
	if err := mod.Run(ctx, m, tick); err != nil {
		logger.Error("Module run failed.", "timestep", tick.Index, "error", err)
		return &ModuleError{Module: desc.Name, Timestep: tick.Index, Err: err}
	}
	logger.Debug("Module run finished.", "timestep", tick.Index, "duration", time.Since(start))
	return nil
}
