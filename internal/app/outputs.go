package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/vk/meshrun/internal/config"
	"github.com/vk/meshrun/internal/ctxlog"
	"github.com/vk/meshrun/internal/output"
)

// buildPolicy translates the trigger attributes of an output block. A block
// without any trigger emits on every timestep.
func buildPolicy(o *config.Output) (output.Policy, error) {
	p := output.Policy{
		OnlyLastN:        o.OnlyLastN,
		Frequency:        o.Frequency,
		SpecificDateTime: o.SpecificDateTime,
	}
	if o.SpecificTime != "" {
		tod, err := output.ParseTimeOfDay(o.SpecificTime)
		if err != nil {
			return output.Policy{}, err
		}
		p.SpecificTime = &tod
	}
	if o.Schedule != "" {
		sched, err := cron.ParseStandard(o.Schedule)
		if err != nil {
			return output.Policy{}, fmt.Errorf("invalid schedule %q: %w", o.Schedule, err)
		}
		p.Schedule = sched
		p.ScheduleSpec = o.Schedule
	}
	if !o.HasTrigger() {
		every := 1
		p.Frequency = &every
	}
	return p, nil
}

// rankPath makes path relative to dir and, for multi-rank runs, adds the
// rank before the extension so ranks never share a file.
func rankPath(dir, path string, rank, ranks int) string {
	if !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}
	if ranks <= 1 {
		return path
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s.rank_%d%s", strings.TrimSuffix(path, ext), rank, ext)
}

func (a *App) openSink(ctx context.Context, o *config.Output, rank, ranks int) (output.Sink, error) {
	switch o.Sink {
	case config.SinkParquet:
		return output.NewParquetSink(rankPath(a.model.Run.OutputDir, o.Path, rank, ranks), o.Variables)
	case config.SinkPostgres:
		db, err := output.OpenPostgres(ctx, o.DSN)
		if err != nil {
			return nil, err
		}
		table := o.Table
		if table == "" {
			table = o.Name
		}
		sink, err := output.NewPostgresSink(ctx, db, table, o.Variables, true)
		if err != nil {
			db.Close()
			return nil, err
		}
		return sink, nil
	case config.SinkSocketIO:
		return output.DialSocketIO(ctx, output.SocketIOOptions{URL: o.URL})
	}
	return nil, fmt.Errorf("unknown sink %q", o.Sink)
}

// buildOutputs opens every output sink and returns the manager owning them.
// Sinks opened before a failure are closed.
func (a *App) buildOutputs(ctx context.Context, rank, ranks int) (*output.Manager, error) {
	logger := ctxlog.FromContext(ctx)

	descs := make([]*output.Descriptor, 0, len(a.model.Outputs))
	cleanup := func() error {
		var errs []error
		for _, d := range descs {
			errs = append(errs, d.Sink.Close())
		}
		return errors.Join(errs...)
	}

	for _, o := range a.model.Outputs {
		policy, err := buildPolicy(o)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("output %q: %w", o.Name, err), cleanup())
		}
		sink, err := a.openSink(ctx, o, rank, ranks)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("output %q: %w", o.Name, err), cleanup())
		}
		descs = append(descs, &output.Descriptor{
			Name:      o.Name,
			Kind:      output.Kind(o.Kind),
			Variables: o.Variables,
			Element:   o.Element,
			Policy:    policy,
			Sink:      sink,
		})
		logger.Debug("Output sink opened.", "output", o.Name, "sink", o.Sink)
	}

	mgr, err := output.NewManager(descs...)
	if err != nil {
		return nil, errors.Join(err, cleanup())
	}
	return mgr, nil
}
