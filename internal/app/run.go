package app

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/vk/meshrun/internal/checkpoint"
	"github.com/vk/meshrun/internal/ctxlog"
	"github.com/vk/meshrun/internal/dag"
	"github.com/vk/meshrun/internal/driver"
	"github.com/vk/meshrun/internal/executor"
	"github.com/vk/meshrun/internal/forcing"
	"github.com/vk/meshrun/internal/mesh"
	"github.com/vk/meshrun/internal/module"
	"github.com/vk/meshrun/internal/scheduler"
	"github.com/vk/meshrun/internal/wallclock"
)

// Run builds the modules, schedule and policies from the loaded model and
// executes the timestep loop. Failures detected before the loop starts wrap
// ErrConfig. In DOT mode the module graph is written to the output writer
// and no timestep runs.
func (a *App) Run(ctx context.Context) (driver.Result, error) {
	runID := a.cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := a.logger.With("run_id", runID)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("App.Run method started.")

	if a.cfg.StatusPort > 0 {
		a.startStatusServer(a.cfg.StatusPort)
		defer a.closeStatusServer(ctx)
	}

	budget, err := wallclock.Detect(ctx, wallclock.OSEnviron, time.Now())
	if err != nil {
		return driver.Result{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	mods, err := a.registry.Instantiate(ctx, a.model.Modules, a.converter)
	if err != nil {
		return driver.Result{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	logger.Info("Modules instantiated.", "count", len(mods), "types", a.registry.Types())

	fc := a.model.Forcing
	provider, err := forcing.NewSynthetic(fc.Start, fc.End, fc.Step, fc.Values, fc.Amplitudes)
	if err != nil {
		return driver.Result{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	logger.Debug("Building dependency graph from config model...")
	graph, err := dag.Build(ctx, module.Descriptors(mods), a.externalVariables(provider))
	if err != nil {
		return driver.Result{}, fmt.Errorf("%w: failed to build dependency graph: %w", ErrConfig, err)
	}
	logger.Debug("Dependency graph built.", "modules", graph.Len(), "edges", len(graph.Edges()))

	if a.cfg.DOT {
		if err := graph.WriteDOT(a.outW); err != nil {
			return driver.Result{}, fmt.Errorf("failed to write graph: %w", err)
		}
		return driver.Result{}, nil
	}

	sched, err := scheduler.New(ctx, graph)
	if err != nil {
		return driver.Result{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	msh, err := mesh.New(a.model.Mesh.Elements, a.cfg.Rank, a.cfg.Ranks)
	if err != nil {
		return driver.Result{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if err := forcing.Initialize(msh, a.model.Parameters); err != nil {
		return driver.Result{}, fmt.Errorf("%w: parameters: %w", ErrConfig, err)
	}
	if err := forcing.Initialize(msh, a.model.InitialConditions); err != nil {
		return driver.Result{}, fmt.Errorf("%w: initial conditions: %w", ErrConfig, err)
	}

	var closers []func() error
	defer func() {
		for _, c := range slices.Backward(closers) {
			if err := c(); err != nil {
				logger.Warn("Failed to release run resource.", "error", err)
			}
		}
	}()

	outputs, err := a.buildOutputs(ctx, a.cfg.Rank, a.cfg.Ranks)
	if err != nil {
		return driver.Result{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	closers = append(closers, outputs.Close)
	outputs.LogTriggers(ctx)

	reducer, err := a.openReducer(ctx, runID)
	if err != nil {
		return driver.Result{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	closers = append(closers, reducer.Close)

	store, err := a.openStore(ctx, a.model.Checkpoint)
	if err != nil {
		return driver.Result{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	publisher, err := a.openEvents()
	if err != nil {
		return driver.Result{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	closers = append(closers, publisher.Close)

	tracing, err := a.openTracing(ctx, runID)
	if err != nil {
		return driver.Result{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	closers = append(closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return tracing.Shutdown(shutdownCtx)
	})

	d := driver.New(driver.Config{
		RunID:        runID,
		Modules:      mods,
		Schedule:     sched,
		Executor:     executor.New(a.cfg.Workers),
		Mesh:         msh,
		Forcing:      provider,
		Outputs:      outputs,
		Checkpoints:  checkpoint.NewManager(checkpointOptions(a.model.Checkpoint), budget, reducer),
		Store:        store,
		OutputDir:    a.model.Run.OutputDir,
		NotifyScript: a.model.Run.NotifyScript,
		Events:       publisher,
		Tracer:       tracing.Tracer(),
	})
	a.driver.Store(d)

	if err := d.Configure(ctx); err != nil {
		if errors.Is(err, driver.ErrInvalidState) {
			return driver.Result{}, err
		}
		return driver.Result{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	logger.Info("🚀 Starting run...", "name", a.model.Run.Name, "rank", a.cfg.Rank, "ranks", a.cfg.Ranks)
	res, err := d.Run(ctx)
	if err != nil {
		return res, fmt.Errorf("run ended %s: %w", res.Outcome, err)
	}
	logger.Info("🏁 Run finished.", "outcome", res.Outcome, "last_timestep", res.LastTimestep)
	return res, nil
}

// externalVariables lists every variable available to modules without a
// producing module: forcing variables, parameters and initial conditions.
func (a *App) externalVariables(p forcing.Provider) []string {
	vars := slices.Clone(p.Variables())
	vars = append(vars, slices.Sorted(maps.Keys(a.model.Parameters))...)
	vars = append(vars, slices.Sorted(maps.Keys(a.model.InitialConditions))...)
	slices.Sort(vars)
	return slices.Compact(vars)
}
