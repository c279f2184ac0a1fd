package accumulate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/meshrun/internal/clock"
	"github.com/vk/meshrun/internal/mesh"
	"github.com/vk/meshrun/internal/testutil"
)

func TestAccumulate(t *testing.T) {
	ctx, _ := testutil.Context(t)
	m, err := mesh.New(2, 0, 1)
	require.NoError(t, err)
	m.Declare("flux", "store")
	require.NoError(t, m.Fill("flux", 3))

	a, err := New("store", &Config{Input: "flux", Output: "store", Initial: 10, Loss: 0.5, Step: "30m"})
	require.NoError(t, err)
	require.NoError(t, a.Init(ctx, m))

	require.NoError(t, a.Run(ctx, m, clock.Tick{Index: 0}))
	store, err := m.Field("store")
	require.NoError(t, err)
	assert.Equal(t, []float64{6.5, 6.5}, store)

	require.NoError(t, a.Run(ctx, m, clock.Tick{Index: 1}))
	assert.Equal(t, []float64{4.75, 4.75}, store)
}

func TestAccumulate_InvalidLoss(t *testing.T) {
	_, err := New("store", &Config{Input: "flux", Output: "store", Loss: 1.5})
	assert.Error(t, err)
}
