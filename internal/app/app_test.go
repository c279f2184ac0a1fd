package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/meshrun/internal/driver"
	"github.com/vk/meshrun/internal/hcl"
)

const catchmentRun = `
run {
  name       = "catchment"
  output_dir = "%[1]s/out"
}

mesh {
  elements = 8
}

forcing {
  start    = "2024-01-01T00:00:00Z"
  end      = "2024-01-01T09:00:00Z"
  timestep = "1h"
  values   = { rain = 2 }
}

initial_conditions {
  values = { storage = 1 }
}

module "linear" "runoff" {
  input       = "rain"
  output      = "runoff"
  coefficient = 0.5
}

module "accumulate" "reservoir" {
  input  = "runoff"
  output = "storage"
  loss   = 0.1
}

checkpoint {
  path      = "%[1]s/ckpt"
  frequency = 4
  %[2]s
}

output "timeseries" "gauge" {
  variables = ["runoff", "storage"]
  element   = 5
  path      = "gauge.parquet"
}
`

func newTestLoader() *hcl.Loader {
	return hcl.NewLoaderWithEnv(nil)
}

func writeRun(t *testing.T, dir, name, extra string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(catchmentRun, dir, extra)), 0o644))
	return path
}

func TestApp_Run(t *testing.T) {
	t.Run("completes with checkpoints, output and marker", func(t *testing.T) {
		// --- Arrange ---
		dir := t.TempDir()
		path := writeRun(t, dir, "run.hcl", "")
		a, logs := SetupAppTest(t, TestConfig(path))

		// --- Act ---
		res, err := a.Run(t.Context())

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, driver.Completed, res.Outcome)
		assert.True(t, res.Clean)
		assert.Equal(t, 0, res.FirstTimestep)
		assert.Equal(t, 9, res.LastTimestep)
		assert.Equal(t, []int{4, 8}, res.Checkpoints)

		assert.FileExists(t, filepath.Join(dir, "ckpt", "ts_4", "rank_0.yaml"))
		assert.FileExists(t, filepath.Join(dir, "ckpt", "ts_8", "rank_0.msgpack"))
		assert.NoDirExists(t, filepath.Join(dir, "ckpt", "ts_9"))

		info, err := os.Stat(filepath.Join(dir, "out", "gauge.parquet"))
		require.NoError(t, err)
		assert.Positive(t, info.Size())

		marker, err := driver.ReadMarker(driver.MarkerPath(filepath.Join(dir, "out"), 0, 1))
		require.NoError(t, err)
		assert.Equal(t, "test-run", marker.RunID)
		assert.Equal(t, 9, marker.LastTimestep)

		assert.Contains(t, logs.String(), "Modules instantiated.")
		assert.Equal(t, driver.Terminated, a.driver.Load().State())
	})

	t.Run("resumes from the latest checkpoint", func(t *testing.T) {
		// --- Arrange ---
		dir := t.TempDir()
		first, _ := SetupAppTest(t, TestConfig(writeRun(t, dir, "run.hcl", "")))
		_, err := first.Run(t.Context())
		require.NoError(t, err)

		resumeDir := filepath.Join(dir, "resume")
		require.NoError(t, os.Mkdir(resumeDir, 0o755))
		path := filepath.Join(resumeDir, "run.hcl")
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(catchmentRun, dir, `load_from = "latest"`)), 0o644))
		second, logs := SetupAppTest(t, TestConfig(path))

		// --- Act ---
		res, err := second.Run(t.Context())

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, 9, res.FirstTimestep)
		assert.Equal(t, 9, res.LastTimestep)
		assert.Empty(t, res.Checkpoints)
		assert.Contains(t, logs.String(), "Checkpoint loaded.")
	})

	t.Run("cancelled context aborts", func(t *testing.T) {
		// --- Arrange ---
		dir := t.TempDir()
		a, _ := SetupAppTest(t, TestConfig(writeRun(t, dir, "run.hcl", "")))
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		// --- Act ---
		res, err := a.Run(ctx)

		// --- Assert ---
		require.ErrorIs(t, err, driver.ErrAborted)
		assert.NotErrorIs(t, err, ErrConfig)
		assert.Equal(t, driver.Aborted, res.Outcome)
		assert.NoFileExists(t, driver.MarkerPath(filepath.Join(dir, "out"), 0, 1))
	})
}

func TestApp_RunDOT(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	cfg := TestConfig(writeRun(t, dir, "run.hcl", ""))
	cfg.DOT = true
	a, logs := SetupAppTest(t, cfg)

	// --- Act ---
	res, err := a.Run(t.Context())

	// --- Assert ---
	require.NoError(t, err)
	assert.Empty(t, res.Outcome)
	assert.Contains(t, logs.String(), `m0 -> m1 [label="runoff"];`)
	assert.NoDirExists(t, filepath.Join(dir, "ckpt"))
}

func TestNewApp_ModuleOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeRun(t, dir, "run.hcl", "")
	extra := filepath.Join(dir, "extra.hcl")
	require.NoError(t, os.WriteFile(extra, []byte(`
module "sum" "total" {
  inputs = ["runoff", "storage"]
  output = "total"
}
`), 0o644))

	t.Run("add and remove", func(t *testing.T) {
		cfg := TestConfig(path)
		cfg.AddModules = []string{extra}
		cfg.RemoveModules = []string{"reservoir"}
		a, _ := SetupAppTest(t, cfg)

		var names []string
		for _, m := range a.Model().Modules {
			names = append(names, m.Name)
		}
		assert.Equal(t, []string{"runoff", "total"}, names)
	})

	t.Run("unknown module is a configuration error", func(t *testing.T) {
		cfg := TestConfig(path)
		cfg.RemoveModules = []string{"missing"}
		appConfig, err := NewConfig(cfg)
		require.NoError(t, err)

		_, err = NewApp(&bytes.Buffer{}, appConfig, newTestLoader())
		assert.ErrorIs(t, err, ErrConfig)
	})
}

func TestNewApp_InvalidRunFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`run { name = "x" }`), 0o644))
	appConfig, err := NewConfig(TestConfig(path))
	require.NoError(t, err)

	_, err = NewApp(&bytes.Buffer{}, appConfig, newTestLoader())
	assert.ErrorIs(t, err, ErrConfig)
}

func TestNewConfig(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg, err := NewConfig(TestConfig("run.hcl"))
		require.NoError(t, err)
		assert.Equal(t, 1, cfg.Ranks)
	})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no paths", func(c *Config) { c.ConfigPaths = nil }},
		{"rank out of range", func(c *Config) { c.Rank = 1 }},
		{"redis without url", func(c *Config) { c.Consensus = ConsensusRedis; c.Ranks = 2 }},
		{"many ranks locally", func(c *Config) { c.Ranks = 2 }},
		{"kafka without brokers", func(c *Config) { c.Events = EventsKafka }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := TestConfig("run.hcl")
			tt.mutate(&cfg)
			_, err := NewConfig(cfg)
			assert.Error(t, err)
		})
	}
}

func TestStatusHandlers(t *testing.T) {
	dir := t.TempDir()
	a, _ := SetupAppTest(t, TestConfig(writeRun(t, dir, "run.hcl", "")))

	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		a.statusMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "OK\n", rec.Body.String())
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		a.statusMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, problemMediaType, rec.Header().Get("Content-Type"))
	})

	t.Run("status before the run", func(t *testing.T) {
		rec := httptest.NewRecorder()
		a.statusMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "not_started", body["type"])
		assert.Equal(t, "/status", body["instance"])
	})

	t.Run("status after the run", func(t *testing.T) {
		_, err := a.Run(t.Context())
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		a.statusMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var st driver.Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
		assert.Equal(t, "terminated", st.State)
		assert.Equal(t, 9, st.Timestep)
		assert.Equal(t, 10, st.Total)
	})
}
