package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/vk/meshrun/internal/config"
	"github.com/vk/meshrun/internal/ctxlog"
	"github.com/vk/meshrun/internal/driver"
	"github.com/vk/meshrun/internal/registry"
)

// ErrConfig wraps every failure detected before the timestep loop starts.
var ErrConfig = errors.New("configuration error")

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW      io.Writer
	logger    *slog.Logger
	cfg       *Config
	registry  *registry.Registry
	model     *config.Model
	converter config.Converter

	httpServer *http.Server
	driver     atomic.Pointer[driver.Driver]
}

// NewApp loads the run files through loader, applies the module overrides
// and validates the result. modules replaces the built-in module set when
// given.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader, modules ...registry.Module) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model, converter, err := loader.Load(ctx, cfg.ConfigPaths...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load configuration: %w", ErrConfig, err)
	}
	logger.Debug("Configuration loaded and translated into unified model.")

	var added []*config.ModuleSpec
	if len(cfg.AddModules) > 0 {
		extra, _, err := loader.Load(ctx, cfg.AddModules...)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to load added modules: %w", ErrConfig, err)
		}
		added = extra.Modules
	}
	model.Modules, err = registry.ApplyOverrides(model.Modules, cfg.RemoveModules, added)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if len(cfg.RemoveModules) > 0 || len(added) > 0 {
		logger.Info("Module overrides applied.", "removed", cfg.RemoveModules, "added", len(added))
	}

	if err := config.Validate(model); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	logger.Debug("Configuration validated.")

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All Go modules registered.", "types", reg.Types())

	return &App{
		outW:      outW,
		logger:    logger,
		cfg:       cfg,
		registry:  reg,
		model:     model,
		converter: converter,
	}, nil
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Model returns the loaded configuration model.
func (a *App) Model() *config.Model {
	return a.model
}
