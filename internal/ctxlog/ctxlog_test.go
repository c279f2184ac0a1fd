package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	t.Run("returns the stored logger", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
		ctx := WithLogger(context.Background(), logger)
		assert.Same(t, logger, FromContext(ctx))
	})

	t.Run("panics without a logger", func(t *testing.T) {
		assert.Panics(t, func() { FromContext(context.Background()) })
	})
}

func TestWith(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithLogger(context.Background(), slog.New(slog.NewTextHandler(buf, nil)))

	ctx = With(ctx, "rank", 3)
	FromContext(ctx).Info("hello")

	require.Contains(t, buf.String(), "rank=3")
	assert.Contains(t, buf.String(), "msg=hello")
}
