package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/meshrun/internal/config"
	"github.com/vk/meshrun/internal/output"
)

func TestBuildPolicy(t *testing.T) {
	t.Run("no trigger emits every timestep", func(t *testing.T) {
		p, err := buildPolicy(&config.Output{})
		require.NoError(t, err)
		require.NotNil(t, p.Frequency)
		assert.Equal(t, 1, *p.Frequency)
	})

	t.Run("time of day and schedule", func(t *testing.T) {
		p, err := buildPolicy(&config.Output{SpecificTime: "06:30", Schedule: "0 12 * * *"})
		require.NoError(t, err)
		assert.Nil(t, p.Frequency)
		assert.Equal(t, output.TimeOfDay{Hour: 6, Minute: 30}, *p.SpecificTime)

		noon := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		assert.True(t, output.ShouldOutput(100, 12, noon, p))
		assert.False(t, output.ShouldOutput(100, 13, noon.Add(time.Hour), p))
	})

	t.Run("invalid attributes", func(t *testing.T) {
		_, err := buildPolicy(&config.Output{SpecificTime: "25:99"})
		assert.Error(t, err)
		_, err = buildPolicy(&config.Output{Schedule: "every day"})
		assert.Error(t, err)
	})
}

func TestRankPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "gauge.parquet"), rankPath("out", "gauge.parquet", 0, 1))
	assert.Equal(t, filepath.Join("out", "gauge.rank_2.parquet"), rankPath("out", "gauge.parquet", 2, 4))
	assert.Equal(t, "/abs/mesh.parquet", rankPath("out", "/abs/mesh.parquet", 0, 1))
}
