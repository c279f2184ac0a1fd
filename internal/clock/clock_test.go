package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2020, 10, 1, 0, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	t.Run("counts inclusive timesteps", func(t *testing.T) {
		c, err := New(start, start.Add(9*time.Hour), time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 10, c.Total())
		assert.Equal(t, 9, c.MaxIndex())
	})

	t.Run("single timestep when start equals end", func(t *testing.T) {
		c, err := New(start, start, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, c.Total())
	})

	t.Run("rejects non-positive step", func(t *testing.T) {
		_, err := New(start, start.Add(time.Hour), 0)
		assert.ErrorIs(t, err, ErrInvalidRange)
	})

	t.Run("rejects end before start", func(t *testing.T) {
		_, err := New(start, start.Add(-time.Hour), time.Hour)
		assert.ErrorIs(t, err, ErrInvalidRange)
	})
}

func TestNext(t *testing.T) {
	c, err := New(start, start.Add(2*time.Hour), time.Hour)
	require.NoError(t, err)

	var ticks []Tick
	for !c.Done() {
		ticks = append(ticks, c.Next())
	}

	require.Len(t, ticks, 3)
	assert.Equal(t, 0, ticks[0].Index)
	assert.Equal(t, start, ticks[0].Date)
	assert.False(t, ticks[1].Last())
	assert.True(t, ticks[2].Last())
	assert.Equal(t, start.Add(2*time.Hour), ticks[2].Date)
	assert.Panics(t, func() { c.Next() })
}

func TestResume(t *testing.T) {
	c, err := New(start, start.Add(9*time.Hour), time.Hour)
	require.NoError(t, err)

	require.NoError(t, c.Resume(4))
	tick := c.Next()
	assert.Equal(t, 5, tick.Index, "resume continues after the saved timestep")
	assert.Equal(t, start.Add(5*time.Hour), tick.Date)
	assert.Equal(t, 4, c.Remaining())

	assert.ErrorIs(t, c.Resume(10), ErrInvalidRange)
	assert.ErrorIs(t, c.Resume(-1), ErrInvalidRange)

	require.NoError(t, c.Resume(9))
	assert.True(t, c.Done())
}
