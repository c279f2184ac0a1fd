package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func TestCollectFiles(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "b.hcl"))
	touch(t, filepath.Join(root, "a.hcl"))
	touch(t, filepath.Join(root, "nested", "c.hcl"))
	touch(t, filepath.Join(root, "notes.txt"))
	extra := filepath.Join(t.TempDir(), "extra.hcl")
	touch(t, extra)

	t.Run("directories are searched in lexical order", func(t *testing.T) {
		files, err := CollectFiles([]string{root, extra, filepath.Join(root, "a.hcl")}, ".hcl")
		require.NoError(t, err)
		assert.Equal(t, []string{
			filepath.Join(root, "a.hcl"),
			filepath.Join(root, "b.hcl"),
			filepath.Join(root, "nested", "c.hcl"),
			extra,
		}, files)
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := CollectFiles([]string{filepath.Join(root, "missing.hcl")}, ".hcl")
		assert.Error(t, err)
	})
}
