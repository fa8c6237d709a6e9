package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCreatesLayout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	paths, err := Init(dir)
	require.NoError(t, err)

	for _, p := range []string{paths.Store, paths.Logs, paths.Backups, paths.Tmp} {
		fi, err := os.Stat(p)
		require.NoError(t, err, p)
		assert.True(t, fi.IsDir())
		assert.Equal(t, os.FileMode(0o700), fi.Mode().Perm())
	}
}

func TestInitRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	target := t.TempDir()
	require.NoError(t, os.Symlink(target, filepath.Join(dir, "store")))

	_, err := Init(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symlink")
}

func TestInitRejectsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "store"), []byte("x"), 0o600))

	_, err := Init(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}
