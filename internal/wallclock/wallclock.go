// Package wallclock detects the wall-clock budget imposed on the run by a
// batch scheduler or an explicit override.
package wallclock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vk/meshrun/internal/ctxlog"
)

// LimitEnv names the environment variable holding an explicit wall-clock limit.
const LimitEnv = "MESHRUN_WALLCLOCK_LIMIT"

// ErrInvalidLimit is returned for a malformed wall-clock limit override.
var ErrInvalidLimit = errors.New("invalid wall-clock limit")

// Environ looks up an environment variable.
type Environ func(key string) (string, bool)

// OSEnviron reads the process environment.
var OSEnviron Environ = os.LookupEnv

// Budget is the wall-clock budget captured once at startup.
type Budget struct {
	HasLimit bool
	Limit    time.Duration
	Start    time.Time
	// Scheduler is "slurm", "pbs" or empty.
	Scheduler string
	JobID     string
	// TaskPID and ProcID are only set under SLURM.
	TaskPID string
	ProcID  string
}

// Remaining returns the time left before the limit at now. It is negative
// once the limit is exceeded and meaningless when HasLimit is false.
func (b Budget) Remaining(now time.Time) time.Duration {
	return b.Limit - now.Sub(b.Start)
}

// Detect inspects the environment for batch scheduler job identifiers and
// the LimitEnv override. start is the wall-clock time the run began.
func Detect(ctx context.Context, env Environ, start time.Time) (Budget, error) {
	logger := ctxlog.FromContext(ctx)
	b := Budget{Start: start}

	if id, ok := env("SLURM_JOB_ID"); ok {
		b.Scheduler = "slurm"
		b.JobID = id
		b.TaskPID, _ = env("SLURM_TASK_PID")
		b.ProcID, _ = env("SLURM_PROCID")
		logger.Debug("Detected SLURM job.", "job_id", id, "task_pid", b.TaskPID, "proc_id", b.ProcID)
	}
	if id, ok := env("PBS_JOBID"); ok {
		if b.Scheduler == "" {
			b.Scheduler = "pbs"
			b.JobID = id
		}
		logger.Debug("Detected PBS job.", "job_id", id)
	}

	raw, ok := env(LimitEnv)
	if !ok {
		return b, nil
	}
	limit, err := ParseLimit(raw)
	if err != nil {
		return Budget{}, fmt.Errorf("environment variable %s: %w", LimitEnv, err)
	}
	b.HasLimit = true
	b.Limit = limit
	logger.Info("Wall-clock limit detected.", "limit", limit)
	return b, nil
}

// ParseLimit accepts "HH:MM:SS" with optional fractional seconds, or a Go
// duration such as "90m". The result must be positive.
func ParseLimit(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidLimit)
	}

	var d time.Duration
	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		if len(parts) != 3 {
			return 0, fmt.Errorf("%w: %q is not HH:MM:SS", ErrInvalidLimit, s)
		}
		h, errH := strconv.Atoi(parts[0])
		m, errM := strconv.Atoi(parts[1])
		sec, errS := strconv.ParseFloat(parts[2], 64)
		if errH != nil || errM != nil || errS != nil || h < 0 || m < 0 || m > 59 || sec < 0 || sec >= 60 {
			return 0, fmt.Errorf("%w: %q is not HH:MM:SS", ErrInvalidLimit, s)
		}
		d = time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec*float64(time.Second))
	} else {
		var err error
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidLimit, err)
		}
	}

	if d <= 0 {
		return 0, fmt.Errorf("%w: %q must be positive", ErrInvalidLimit, s)
	}
	return d, nil
}
