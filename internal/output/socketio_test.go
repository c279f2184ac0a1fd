package output

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectError(t *testing.T) {
	refused := errors.New("connection refused")

	tests := []struct {
		name string
		args []any
		want string
	}{
		{name: "no arguments", args: nil, want: "connect_error without a reason"},
		{name: "nil argument", args: []any{nil}, want: "connect_error without a reason"},
		{name: "error argument", args: []any{refused}, want: "connection refused"},
		{name: "server message", args: []any{map[string]any{"message": "unauthorized"}}, want: "connect_error: map[message:unauthorized]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := connectError(tt.args...)
			require.Error(t, err)
			assert.EqualError(t, err, tt.want)
		})
	}

	assert.ErrorIs(t, connectError(refused, "extra"), refused)
}

func TestPayload(t *testing.T) {
	rec := Record{
		Output:   "runoff",
		Kind:     MeshKind,
		Timestep: 3,
		Date:     time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC),
		Rank:     1,
		Offset:   4,
		Values:   map[string][]float64{"q": {1, 2}},
	}

	got := payload(rec)

	assert.Equal(t, "runoff", got["output"])
	assert.Equal(t, "mesh", got["kind"])
	assert.Equal(t, "2024-06-01T03:00:00Z", got["date"])
	assert.Equal(t, 4, got["offset"])
	assert.Equal(t, map[string]any{"q": []float64{1, 2}}, got["values"])
}
