package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/meshrun/internal/app"
	"github.com/vk/meshrun/internal/cli"
)

func TestRun_InvalidRunFile(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// A run file with a syntax error fails while loading inside app.NewApp().
	invalidHCL := `
		module "linear" "runoff" {
			input = "rain"
		// Missing closing brace here
	`
	tempDir := t.TempDir()
	filePath := filepath.Join(tempDir, "main.hcl")
	err := os.WriteFile(filePath, []byte(invalidHCL), 0600)
	require.NoError(t, err, "failed to set up test file")

	args := []string{"--log-format", "text", filePath}
	out := &bytes.Buffer{}

	// --- Act ---
	runErr := run(t.Context(), out, args)

	// --- Assert ---
	require.Error(t, runErr, "run() should fail on an unparsable run file")
	require.True(t, errors.Is(runErr, app.ErrConfig), "The error should be a configuration error.")
	require.Equal(t, cli.ExitUsage, cli.AsExitError(runErr).Code)
}

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// The "-h" (help) flag should cause cli.Parse to return `shouldExit=true`.
	args := []string{"-h"}
	out := &bytes.Buffer{}

	// --- Act ---
	err := run(t.Context(), out, args)

	// --- Assert ---
	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "USAGE:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// Providing an unknown flag will cause cli.Parse to return an error.
	args := []string{"--this-is-not-a-valid-flag"}
	out := &bytes.Buffer{}

	// --- Act ---
	err := run(t.Context(), out, args)

	// --- Assert ---
	require.Error(t, err, "run() should return an error when argument parsing fails")
	require.Contains(t, err.Error(), "this-is-not-a-valid-flag")
}

func TestRun_DOT(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	runFile := `
run { name = "dot" }
mesh { elements = 2 }
forcing {
  start    = "2024-01-01T00:00:00Z"
  end      = "2024-01-01T02:00:00Z"
  timestep = "1h"
  values   = { rain = 1 }
}
module "linear" "runoff" {
  input  = "rain"
  output = "runoff"
}
`
	filePath := filepath.Join(t.TempDir(), "run.hcl")
	require.NoError(t, os.WriteFile(filePath, []byte(runFile), 0600))
	out := &bytes.Buffer{}

	// --- Act ---
	err := run(t.Context(), out, []string{"--dot", "--log-level", "error", filePath})

	// --- Assert ---
	require.NoError(t, err)
	require.Contains(t, out.String(), "digraph modules {")
	require.Contains(t, out.String(), `external -> m0 [label="rain", style=dashed];`)
}
