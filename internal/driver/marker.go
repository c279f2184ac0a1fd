package driver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vk/meshrun/internal/ctxlog"
	"github.com/vk/meshrun/internal/events"
)

// MarkerName is the completion marker written by single-rank runs.
const MarkerName = "meshrun.complete"

const notifyTimeout = 30 * time.Second

// Marker is the content of the completion marker.
type Marker struct {
	RunID         string    `yaml:"run_id"`
	Rank          int       `yaml:"rank"`
	Ranks         int       `yaml:"ranks"`
	FirstTimestep int       `yaml:"first_timestep"`
	LastTimestep  int       `yaml:"last_timestep"`
	Checkpoints   []int     `yaml:"checkpoints,omitempty"`
	Finished      time.Time `yaml:"finished"`
}

// MarkerPath returns the completion marker of rank out of ranks in dir.
// Multi-rank runs write one marker per rank.
func MarkerPath(dir string, rank, ranks int) string {
	if ranks <= 1 {
		return filepath.Join(dir, MarkerName)
	}
	return filepath.Join(dir, fmt.Sprintf("meshrun.rank_%d.complete", rank))
}

// ReadMarker loads a completion marker.
func ReadMarker(path string) (Marker, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Marker{}, err
	}
	var m Marker
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Marker{}, fmt.Errorf("invalid completion marker %s: %w", path, err)
	}
	return m, nil
}

// finish runs the termination side effects. None of them can change the
// outcome, so failures are logged.
func (d *Driver) finish(ctx context.Context, res Result) {
	ctx = context.WithoutCancel(ctx)
	logger := ctxlog.FromContext(ctx)

	if err := d.updateMarker(res); err != nil {
		logger.Error("Failed to update completion marker.", "error", err)
	}
	if d.cfg.NotifyScript != "" {
		d.notify(ctx, res)
	}
	d.publish(ctx, events.RunFinished, res.LastTimestep, map[string]any{
		"outcome":     string(res.Outcome),
		"clean":       res.Clean,
		"checkpoints": res.Checkpoints,
	})
}

func (d *Driver) updateMarker(res Result) error {
	if d.cfg.OutputDir == "" {
		return nil
	}
	path := MarkerPath(d.cfg.OutputDir, d.cfg.Mesh.Rank(), d.cfg.Mesh.Ranks())

	if !res.Clean {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}

	raw, err := yaml.Marshal(&Marker{
		RunID:         d.cfg.RunID,
		Rank:          d.cfg.Mesh.Rank(),
		Ranks:         d.cfg.Mesh.Ranks(),
		FirstTimestep: res.FirstTimestep,
		LastTimestep:  res.LastTimestep,
		Checkpoints:   res.Checkpoints,
		Finished:      d.cfg.Now(),
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d.cfg.OutputDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// notify runs the notify script with the outcome and run id as arguments.
func (d *Driver) notify(ctx context.Context, res Result) {
	logger := ctxlog.FromContext(ctx).With("script", d.cfg.NotifyScript)

	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.cfg.NotifyScript, string(res.Outcome), d.cfg.RunID)
	cmd.Env = append(os.Environ(),
		"MESHRUN_OUTCOME="+string(res.Outcome),
		"MESHRUN_RUN_ID="+d.cfg.RunID,
		fmt.Sprintf("MESHRUN_LAST_TIMESTEP=%d", res.LastTimestep),
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		logger.Warn("Notify script failed.", "error", err, "output", strings.TrimSpace(string(out)))
		return
	}
	logger.Debug("Notify script finished.", "output", strings.TrimSpace(string(out)))
}
