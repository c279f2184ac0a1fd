package cli

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/meshrun/internal/app"
	"github.com/vk/meshrun/internal/driver"
)

func TestParse(t *testing.T) {
	t.Run("flags and positional paths", func(t *testing.T) {
		// --- Arrange ---
		out := &bytes.Buffer{}
		args := []string{
			"-c", "base.hcl",
			"--remove-module", "reservoir",
			"--add-module", "extra.hcl",
			"--log-level", "DEBUG",
			"--workers", "8",
			"--rank", "1", "--ranks", "2",
			"--consensus", "redis", "--redis-url", "redis://localhost:6379/0",
			"overrides.hcl",
		}

		// --- Act ---
		cfg, shouldExit, err := Parse(t.Context(), args, out)

		// --- Assert ---
		require.NoError(t, err)
		assert.False(t, shouldExit)
		assert.Equal(t, []string{"base.hcl", "overrides.hcl"}, cfg.ConfigPaths)
		assert.Equal(t, []string{"reservoir"}, cfg.RemoveModules)
		assert.Equal(t, []string{"extra.hcl"}, cfg.AddModules)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "json", cfg.LogFormat)
		assert.Equal(t, 8, cfg.Workers)
		assert.Equal(t, 1, cfg.Rank)
		assert.Equal(t, 2, cfg.Ranks)
		assert.Equal(t, app.ConsensusRedis, cfg.Consensus)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("MESHRUN_LOG_FORMAT", "text")
		t.Setenv("MESHRUN_RUN_ID", "job-42")

		cfg, _, err := Parse(t.Context(), []string{"run.hcl"}, &bytes.Buffer{})
		require.NoError(t, err)
		assert.Equal(t, "text", cfg.LogFormat)
		assert.Equal(t, "job-42", cfg.RunID)
	})

	t.Run("help exits cleanly", func(t *testing.T) {
		out := &bytes.Buffer{}
		cfg, shouldExit, err := Parse(t.Context(), []string{"-h"}, out)
		require.NoError(t, err)
		assert.True(t, shouldExit)
		assert.Nil(t, cfg)
		assert.Contains(t, out.String(), "meshrun")
	})

	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"--bogus", "run.hcl"}},
		{"no run file", nil},
		{"invalid log level", []string{"--log-level", "loud", "run.hcl"}},
		{"many ranks without redis", []string{"--ranks", "3", "run.hcl"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse(t.Context(), tt.args, &bytes.Buffer{})
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, ExitUsage, exitErr.Code)
		})
	}
}

func TestAsExitError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: bad run file", app.ErrConfig), ExitUsage},
		{fmt.Errorf("run ended aborted: %w", driver.ErrAborted), ExitAborted},
		{errors.New("module exploded"), ExitFailure},
		{&ExitError{Code: 7, Message: "custom"}, 7},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.code, AsExitError(tt.err).Code)
		})
	}
}
