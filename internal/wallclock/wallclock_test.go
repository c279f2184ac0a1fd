package wallclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/meshrun/internal/testutil"
)

func env(vars map[string]string) Environ {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

var start = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func TestDetect(t *testing.T) {
	t.Run("no scheduler and no limit", func(t *testing.T) {
		ctx, _ := testutil.Context(t)
		b, err := Detect(ctx, env(nil), start)
		require.NoError(t, err)
		assert.False(t, b.HasLimit)
		assert.Empty(t, b.Scheduler)
	})

	t.Run("slurm with override", func(t *testing.T) {
		ctx, logs := testutil.Context(t)
		b, err := Detect(ctx, env(map[string]string{
			"SLURM_JOB_ID":   "4242",
			"SLURM_TASK_PID": "17",
			"SLURM_PROCID":   "3",
			LimitEnv:         "01:30:00",
		}), start)
		require.NoError(t, err)

		assert.True(t, b.HasLimit)
		assert.Equal(t, 90*time.Minute, b.Limit)
		assert.Equal(t, "slurm", b.Scheduler)
		assert.Equal(t, "4242", b.JobID)
		assert.Equal(t, "3", b.ProcID)
		assert.Contains(t, logs.String(), "Detected SLURM job.")
	})

	t.Run("pbs", func(t *testing.T) {
		ctx, _ := testutil.Context(t)
		b, err := Detect(ctx, env(map[string]string{"PBS_JOBID": "99.server"}), start)
		require.NoError(t, err)
		assert.Equal(t, "pbs", b.Scheduler)
		assert.Equal(t, "99.server", b.JobID)
	})

	t.Run("malformed override is a configuration error", func(t *testing.T) {
		ctx, _ := testutil.Context(t)
		_, err := Detect(ctx, env(map[string]string{LimitEnv: "two hours"}), start)
		assert.ErrorIs(t, err, ErrInvalidLimit)
	})
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"00:10:00", 10 * time.Minute, true},
		{"48:00:00", 48 * time.Hour, true},
		{"00:00:01.5", 1500 * time.Millisecond, true},
		{"2h30m", 150 * time.Minute, true},
		{"", 0, false},
		{"10:00", 0, false},
		{"00:61:00", 0, false},
		{"-01:00:00", 0, false},
		{"00:00:00", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLimit(tt.in)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrInvalidLimit)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRemaining(t *testing.T) {
	b := Budget{HasLimit: true, Limit: time.Hour, Start: start}
	assert.Equal(t, 45*time.Minute, b.Remaining(start.Add(15*time.Minute)))
	assert.Negative(t, b.Remaining(start.Add(2*time.Hour)))
}
