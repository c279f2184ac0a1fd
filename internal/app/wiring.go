package app

import (
	"context"
	"fmt"

	"github.com/vk/meshrun/internal/checkpoint"
	"github.com/vk/meshrun/internal/config"
	"github.com/vk/meshrun/internal/consensus"
	"github.com/vk/meshrun/internal/ctxlog"
	"github.com/vk/meshrun/internal/events"
	"github.com/vk/meshrun/internal/telemetry"
)

// openReducer returns the consensus backend selected by the options.
func (a *App) openReducer(ctx context.Context, runID string) (consensus.Reducer, error) {
	if a.cfg.Consensus != ConsensusRedis {
		return consensus.Local{}, nil
	}
	client, err := consensus.OpenRedis(ctx, a.cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("Connected to redis consensus backend.", "ranks", a.cfg.Ranks)
	return consensus.NewRedis(client, runID, a.cfg.Rank, a.cfg.Ranks), nil
}

// openStore returns the checkpoint store, or nil when the run neither
// writes nor loads checkpoints. Loading without a configured path resolves
// locations against the LoadFrom value itself.
func (a *App) openStore(ctx context.Context, c config.Checkpoint) (checkpoint.Store, error) {
	root := c.Path
	switch {
	case root != "":
	case c.LoadFrom == checkpoint.Latest:
		return nil, fmt.Errorf("load_from = %q needs a checkpoint path", checkpoint.Latest)
	case c.LoadFrom != "":
		root = c.LoadFrom
	default:
		return nil, nil
	}
	return checkpoint.OpenStore(ctx, root, a.cfg.Rank, checkpoint.S3Options{
		Region:    a.cfg.S3Region,
		Endpoint:  a.cfg.S3Endpoint,
		PathStyle: a.cfg.S3PathStyle,
	})
}

// openEvents returns the lifecycle event publisher selected by the options.
func (a *App) openEvents() (events.Publisher, error) {
	switch a.cfg.Events {
	case EventsGoChannel:
		return events.NewWatermill(events.NewGoChannel(a.logger)), nil
	case EventsKafka:
		pub, err := events.NewKafka(a.cfg.KafkaBrokers, a.logger)
		if err != nil {
			return nil, err
		}
		return events.NewWatermill(pub), nil
	}
	return events.Nop{}, nil
}

// openTracing returns the OTLP exporter when enabled and a no-op provider
// otherwise.
func (a *App) openTracing(ctx context.Context, runID string) (*telemetry.Provider, error) {
	if !a.cfg.OTLP {
		return telemetry.Noop(), nil
	}
	return telemetry.NewOTLP(ctx, runID, a.cfg.Rank)
}

func checkpointOptions(c config.Checkpoint) checkpoint.Options {
	return checkpoint.Options{
		Enabled:      c.Enabled,
		Path:         c.Path,
		Frequency:    c.Frequency,
		OnLast:       c.OnLast,
		OnOutOfTime:  c.OnOutOfTime,
		SafetyMargin: c.SafetyMargin,
		LoadFrom:     c.LoadFrom,
	}
}
