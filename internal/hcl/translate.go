// This file translates decoded HCL blocks into the format-agnostic
// configuration model.

package hcl

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/meshrun/internal/config"
	"github.com/vk/meshrun/internal/ctxlog"
)

// defaultSink is used by output blocks without a sink attribute.
const defaultSink = config.SinkParquet

// model accumulates blocks from several files and remembers where each
// singleton block came from.
type model struct {
	*config.Model
	sources map[string]string
}

func (m *model) claim(block, file string) error {
	if prev, ok := m.sources[block]; ok {
		return fmt.Errorf("%s block defined in both %s and %s", block, prev, file)
	}
	m.sources[block] = file
	return nil
}

func (m *model) merge(ctx context.Context, file string, root *fileRoot) error {
	logger := ctxlog.FromContext(ctx).With("file", file)

	if root.Run != nil {
		if err := m.claim("run", file); err != nil {
			return err
		}
		m.Run = config.Run{
			Name:         root.Run.Name,
			OutputDir:    root.Run.OutputDir,
			NotifyScript: root.Run.NotifyScript,
		}
	}
	if root.Mesh != nil {
		if err := m.claim("mesh", file); err != nil {
			return err
		}
		m.Mesh = config.Mesh{Elements: root.Mesh.Elements}
	}
	if root.Forcing != nil {
		if err := m.claim("forcing", file); err != nil {
			return err
		}
		f, err := translateForcing(root.Forcing)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		m.Forcing = f
	}
	if root.Parameters != nil {
		if err := m.claim("parameters", file); err != nil {
			return err
		}
		m.Parameters = root.Parameters.Values
	}
	if root.InitialConditions != nil {
		if err := m.claim("initial_conditions", file); err != nil {
			return err
		}
		m.InitialConditions = root.InitialConditions.Values
	}
	if root.Checkpoint != nil {
		if err := m.claim("checkpoint", file); err != nil {
			return err
		}
		c, err := translateCheckpoint(root.Checkpoint)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		m.Checkpoint = c
	}

	for _, mb := range root.Modules {
		m.Modules = append(m.Modules, translateModule(mb))
	}
	for _, ob := range root.Outputs {
		o, err := translateOutput(ob)
		if err != nil {
			return fmt.Errorf("%s: output %q: %w", file, ob.Name, err)
		}
		m.Outputs = append(m.Outputs, o)
	}

	logger.Debug("Merged HCL file.", "modules", len(root.Modules), "outputs", len(root.Outputs))
	return nil
}

func translateForcing(b *forcingBlock) (config.Forcing, error) {
	start, err := time.Parse(time.RFC3339, b.Start)
	if err != nil {
		return config.Forcing{}, fmt.Errorf("forcing start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, b.End)
	if err != nil {
		return config.Forcing{}, fmt.Errorf("forcing end: %w", err)
	}
	step, err := time.ParseDuration(b.Timestep)
	if err != nil {
		return config.Forcing{}, fmt.Errorf("forcing timestep: %w", err)
	}
	return config.Forcing{
		Start:      start,
		End:        end,
		Step:       step,
		Values:     b.Values,
		Amplitudes: b.Amplitudes,
	}, nil
}

// translateCheckpoint treats a checkpoint block as enabled unless it says
// otherwise.
func translateCheckpoint(b *checkpointBlock) (config.Checkpoint, error) {
	c := config.Checkpoint{
		Enabled:     b.Enabled == nil || *b.Enabled,
		Path:        b.Path,
		Frequency:   b.Frequency,
		OnLast:      b.OnLast,
		OnOutOfTime: b.OnOutOfTime,
		LoadFrom:    b.LoadFrom,
	}
	if b.SafetyMargin != "" {
		d, err := time.ParseDuration(b.SafetyMargin)
		if err != nil {
			return config.Checkpoint{}, fmt.Errorf("checkpoint safety_margin: %w", err)
		}
		c.SafetyMargin = d
	}
	return c, nil
}

func translateModule(b *moduleBlock) *config.ModuleSpec {
	return &config.ModuleSpec{
		Type:   b.Type,
		Name:   b.Name,
		Body:   b.Body,
		Origin: b.Body.MissingItemRange().String(),
	}
}

func translateOutput(b *outputBlock) (*config.Output, error) {
	o := &config.Output{
		Kind:         b.Kind,
		Name:         b.Name,
		Variables:    b.Variables,
		Element:      b.Element,
		Sink:         b.Sink,
		Path:         b.Path,
		DSN:          b.DSN,
		Table:        b.Table,
		URL:          b.URL,
		OnlyLastN:    b.OnlyLastN,
		Frequency:    b.Frequency,
		SpecificTime: b.SpecificTime,
		Schedule:     b.Schedule,
	}
	if o.Sink == "" {
		o.Sink = defaultSink
	}
	if b.SpecificDateTime != "" {
		t, err := time.Parse(time.RFC3339, b.SpecificDateTime)
		if err != nil {
			return nil, fmt.Errorf("specific_datetime: %w", err)
		}
		o.SpecificDateTime = &t
	}
	return o, nil
}
