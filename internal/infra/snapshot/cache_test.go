package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-tee/internal/domain/attestation"
)

func source(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "b.txt"), []byte("beta"), 0o644))
	return src
}

func TestSnapshotCopiesReadOnly(t *testing.T) {
	src := source(t)
	c := New(filepath.Join(t.TempDir(), "cache"))

	dir, err := c.Snapshot(src, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.Root, "exec-1"), dir)

	b, err := os.ReadFile(filepath.Join(dir, "nested", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "beta", string(b))

	fi, err := os.Stat(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), fi.Mode().Perm())
}

func TestSnapshotIsolatedFromSource(t *testing.T) {
	src := source(t)
	c := New(filepath.Join(t.TempDir(), "cache"))
	dir, err := c.Snapshot(src, "exec-1")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("changed"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "new.txt"), []byte("new"), 0o644))

	b, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(b))
	_, err = os.Stat(filepath.Join(dir, "new.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestSnapshotRejectsReusedID(t *testing.T) {
	src := source(t)
	c := New(filepath.Join(t.TempDir(), "cache"))
	_, err := c.Snapshot(src, "exec-1")
	require.NoError(t, err)
	_, err = c.Snapshot(src, "exec-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, attestation.ErrIO))
}

func TestSnapshotCacheRootIsFile(t *testing.T) {
	src := source(t)
	root := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0o644))
	_, err := New(root).Snapshot(src, "exec-1")
	require.Error(t, err)
	assert.Equal(t, attestation.KindIO, attestation.KindOf(err))
}

func TestSnapshotMissingSourceCleansUp(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "cache"))
	_, err := c.Snapshot(filepath.Join(t.TempDir(), "missing"), "exec-1")
	require.Error(t, err)
	assert.Equal(t, attestation.KindIO, attestation.KindOf(err))
	_, statErr := os.Stat(filepath.Join(c.Root, "exec-1"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSnapshotEmptySource(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "cache"))
	dir, err := c.Snapshot(t.TempDir(), "exec-empty")
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
