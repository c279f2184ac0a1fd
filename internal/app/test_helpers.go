package app

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/meshrun/internal/hcl"
	"github.com/vk/meshrun/internal/registry"
	"github.com/vk/meshrun/internal/testutil"
)

// TestConfig returns valid options for a single-rank run of paths.
func TestConfig(paths ...string) Config {
	return Config{
		ConfigPaths: paths,
		LogFormat:   "text",
		LogLevel:    "debug",
		Workers:     2,
		RunID:       "test-run",
		Ranks:       1,
		Consensus:   ConsensusLocal,
		Events:      EventsNone,
	}
}

// SetupAppTest creates a new app instance for system testing.
func SetupAppTest(t *testing.T, cfg Config, modules ...registry.Module) (*App, *testutil.SafeBuffer) {
	t.Helper()

	logBuffer := &testutil.SafeBuffer{}
	cfg.LogLevel = "debug"
	appConfig, err := NewConfig(cfg)
	require.NoError(t, err)

	testApp, err := NewApp(logBuffer, appConfig, hcl.NewLoaderWithEnv(os.Environ()), modules...)
	require.NoError(t, err)

	t.Cleanup(func() {
		if os.Getenv("MESHRUN_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
