package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/meshrun/internal/clock"
	"github.com/vk/meshrun/internal/mesh"
	"github.com/vk/meshrun/internal/module"
	"github.com/vk/meshrun/internal/testutil"
)

func newMesh(t *testing.T, vars ...string) *mesh.Mesh {
	t.Helper()
	m, err := mesh.New(4, 0, 1)
	require.NoError(t, err)
	m.Declare(vars...)
	return m
}

func TestRunChunk_Concurrent(t *testing.T) {
	ctx, _ := testutil.Context(t)
	rec := testutil.NewRecorder()

	var running, peak int32
	hook := func(context.Context, clock.Tick) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
	}
	var chunk []module.Module
	for _, name := range []string{"a", "b", "c"} {
		chunk = append(chunk, &testutil.FakeModule{
			Desc:     testutil.Descriptor(name, nil, []string{name}),
			Recorder: rec,
			Sleep:    50 * time.Millisecond,
			OnRun:    hook,
		})
	}
	// Decrement after each run via a wrapper chunk.
	for i, mod := range chunk {
		chunk[i] = &decrementing{Module: mod, running: &running}
	}

	err := New(3).RunChunk(ctx, chunk, newMesh(t, "a", "b", "c"), clock.Tick{Index: 2})
	require.NoError(t, err)

	assert.EqualValues(t, 3, atomic.LoadInt32(&peak), "all modules of a chunk run at the same time")
	for _, name := range []string{"a", "b", "c"} {
		runs := rec.Runs(name)
		require.Len(t, runs, 1)
		assert.Equal(t, 2, runs[0].Timestep)
	}
}

type decrementing struct {
	module.Module
	running *int32
}

func (d *decrementing) Run(ctx context.Context, m *mesh.Mesh, tick clock.Tick) error {
	defer atomic.AddInt32(d.running, -1)
	return d.Module.Run(ctx, m, tick)
}

func TestRunChunk_WorkerLimit(t *testing.T) {
	ctx, _ := testutil.Context(t)

	var running, peak int32
	var chunk []module.Module
	for _, name := range []string{"a", "b", "c", "d"} {
		chunk = append(chunk, &decrementing{
			running: &running,
			Module: &testutil.FakeModule{
				Desc:  testutil.Descriptor(name, nil, nil),
				Sleep: 20 * time.Millisecond,
				OnRun: func(context.Context, clock.Tick) {
					n := atomic.AddInt32(&running, 1)
					for {
						p := atomic.LoadInt32(&peak)
						if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
							break
						}
					}
				},
			},
		})
	}

	require.NoError(t, New(1).RunChunk(ctx, chunk, newMesh(t), clock.Tick{}))
	assert.EqualValues(t, 1, atomic.LoadInt32(&peak))
}

func TestRunChunk_Failure(t *testing.T) {
	ctx, _ := testutil.Context(t)
	boom := errors.New("boom")

	chunk := []module.Module{
		&testutil.FakeModule{Desc: testutil.Descriptor("ok", nil, nil), Sleep: time.Second},
		&testutil.FakeModule{Desc: testutil.Descriptor("bad", nil, nil), Err: boom, FailAt: 7},
	}

	start := time.Now()
	err := New(2).RunChunk(ctx, chunk, newMesh(t), clock.Tick{Index: 7})

	require.ErrorIs(t, err, boom)
	var modErr *ModuleError
	require.ErrorAs(t, err, &modErr)
	assert.Equal(t, "bad", modErr.Module)
	assert.Equal(t, 7, modErr.Timestep)
	assert.Less(t, time.Since(start), 900*time.Millisecond, "a failure cancels the rest of the chunk")
}

func TestRunChunk_SingleModule(t *testing.T) {
	ctx, _ := testutil.Context(t)
	m := newMesh(t, "t", "x")
	require.NoError(t, m.Fill("t", 2))

	chunk := []module.Module{&testutil.FakeModule{Desc: testutil.Descriptor("x", []string{"t"}, []string{"x"})}}
	require.NoError(t, New(4).RunChunk(ctx, chunk, m, clock.Tick{}))

	x, _ := m.Field("x")
	assert.Equal(t, []float64{3, 3, 3, 3}, x)
}
