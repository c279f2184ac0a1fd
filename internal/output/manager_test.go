package output

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/meshrun/internal/clock"
	"github.com/vk/meshrun/internal/mesh"
	"github.com/vk/meshrun/internal/testutil"
)

func newMesh(t *testing.T, rank, ranks int) *mesh.Mesh {
	t.Helper()
	m, err := mesh.New(6, rank, ranks)
	require.NoError(t, err)
	m.Declare("swe", "t")
	f, _ := m.Field("swe")
	for i := range f {
		f[i] = float64(m.Offset() + i)
	}
	return m
}

func TestNewManager_Validation(t *testing.T) {
	sink := NewMemorySink()
	tests := []struct {
		name string
		desc []*Descriptor
	}{
		{"duplicate", []*Descriptor{
			{Name: "a", Kind: MeshKind, Variables: []string{"swe"}, Sink: sink},
			{Name: "a", Kind: MeshKind, Variables: []string{"swe"}, Sink: sink},
		}},
		{"no sink", []*Descriptor{{Name: "a", Kind: MeshKind, Variables: []string{"swe"}}}},
		{"no variables", []*Descriptor{{Name: "a", Kind: MeshKind, Sink: sink}}},
		{"bad kind", []*Descriptor{{Name: "a", Kind: "image", Variables: []string{"swe"}, Sink: sink}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.desc...)
			assert.Error(t, err)
		})
	}
}

func TestManager_Emit(t *testing.T) {
	ctx, logs := testutil.Context(t)
	meshSink, stationSink := NewMemorySink(), NewMemorySink()
	every := 2

	mgr, err := NewManager(
		&Descriptor{Name: "mesh", Kind: MeshKind, Variables: []string{"swe"}, Policy: Policy{Frequency: &every}, Sink: meshSink},
		&Descriptor{Name: "station", Kind: TimeSeries, Variables: []string{"swe", "t"}, Element: 4, Policy: Policy{Frequency: ptr(1)}, Sink: stationSink},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"swe", "t"}, mgr.Variables())
	mgr.LogTriggers(ctx)
	assert.Contains(t, logs.String(), "triggers.frequency=2")

	m := newMesh(t, 0, 1)
	date := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for ts := range 4 {
		_, err := mgr.Emit(ctx, clock.Tick{Index: ts, Date: date, Max: 3}, m)
		require.NoError(t, err)
	}

	assert.Equal(t, []int{0, 2}, meshSink.Timesteps())
	assert.Equal(t, []int{0, 1, 2, 3}, stationSink.Timesteps())

	rec := stationSink.Records()[0]
	assert.Equal(t, 4, rec.Offset)
	assert.Equal(t, []float64{4}, rec.Values["swe"])
	assert.Equal(t, []string{"swe", "t"}, rec.Variables())

	f, _ := m.Field("swe")
	f[4] = 99
	assert.Equal(t, []float64{4}, stationSink.Records()[0].Values["swe"], "records copy mesh values")

	require.NoError(t, mgr.Close())
}

func TestManager_EmitOnlyOnOwningRank(t *testing.T) {
	ctx, _ := testutil.Context(t)
	sink := NewMemorySink()
	mgr, err := NewManager(&Descriptor{Name: "station", Kind: TimeSeries, Variables: []string{"swe"}, Element: 1, Policy: Policy{Frequency: ptr(1)}, Sink: sink})
	require.NoError(t, err)

	n, err := mgr.Emit(ctx, clock.Tick{Max: 1}, newMesh(t, 1, 2))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = mgr.Emit(ctx, clock.Tick{Max: 1}, newMesh(t, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type failingSink struct{ err error }

func (f failingSink) Write(context.Context, Record) error { return f.err }
func (f failingSink) Close() error                        { return f.err }

func TestManager_SinkErrorsSurface(t *testing.T) {
	ctx, _ := testutil.Context(t)
	disk := errors.New("disk full")
	mgr, err := NewManager(&Descriptor{Name: "mesh", Kind: MeshKind, Variables: []string{"swe"}, Policy: Policy{Frequency: ptr(1)}, Sink: failingSink{disk}})
	require.NoError(t, err)

	_, err = mgr.Emit(ctx, clock.Tick{}, newMesh(t, 0, 1))
	require.ErrorIs(t, err, disk)
	var sinkErr *SinkError
	require.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, "write", sinkErr.Op)

	assert.ErrorIs(t, mgr.Close(), disk)
}

func TestManager_UnknownVariable(t *testing.T) {
	ctx, _ := testutil.Context(t)
	mgr, err := NewManager(&Descriptor{Name: "mesh", Kind: MeshKind, Variables: []string{"albedo"}, Policy: Policy{Frequency: ptr(1)}, Sink: NewMemorySink()})
	require.NoError(t, err)

	_, err = mgr.Emit(ctx, clock.Tick{}, newMesh(t, 0, 1))
	assert.ErrorIs(t, err, mesh.ErrUnknownVariable)
}
