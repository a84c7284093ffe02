package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Resolver, string) {
	t.Helper()
	root := t.TempDir()
	base := filepath.Join(root, "datasets")
	require.NoError(t, os.MkdirAll(filepath.Join(base, "clean"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "outside"), 0o755))
	realBase, err := filepath.EvalSymlinks(base)
	require.NoError(t, err)
	return New(base), realBase
}

func TestResolveInside(t *testing.T) {
	r, realBase := setup(t)
	got := r.Resolve("clean")
	assert.Equal(t, filepath.Join(realBase, "clean"), got)
	assert.True(t, r.Exists(got))
}

func TestResolveTraversalFallsBackToBase(t *testing.T) {
	r, realBase := setup(t)
	assert.Equal(t, realBase, r.Resolve("../outside"))
	assert.Equal(t, realBase, r.Resolve("../../etc"))
}

func TestResolveMissingInsideKeepsLexicalPath(t *testing.T) {
	r, realBase := setup(t)
	got := r.Resolve("nope")
	assert.Equal(t, filepath.Join(realBase, "nope"), got)
	assert.False(t, r.Exists(got))
}

func TestResolveMissingOutsideNeverEscapes(t *testing.T) {
	r, realBase := setup(t)
	got := r.Resolve("../../definitely/not/here")
	assert.Equal(t, realBase, got)
}

func TestResolveSymlinkEscape(t *testing.T) {
	r, realBase := setup(t)
	outside := filepath.Join(filepath.Dir(r.Base), "outside")
	if err := os.Symlink(outside, filepath.Join(r.Base, "sneaky")); err != nil {
		t.Skip("symlinks not supported")
	}
	assert.Equal(t, realBase, r.Resolve("sneaky"))
}

func TestResolveMissingChildOfSymlinkEscape(t *testing.T) {
	r, realBase := setup(t)
	outside := filepath.Join(filepath.Dir(r.Base), "outside")
	if err := os.Symlink(outside, filepath.Join(r.Base, "link")); err != nil {
		t.Skip("symlinks not supported")
	}

	got := r.Resolve("link/later")
	assert.NotEqual(t, filepath.Join(outside, "later"), got)
	assert.False(t, r.Exists(got))

	// the target showing up outside later is still rejected
	require.NoError(t, os.MkdirAll(filepath.Join(outside, "later"), 0o755))
	assert.False(t, r.Exists(got))
	assert.Equal(t, realBase, r.Resolve("link/later"))
}

func TestResolveMissingChildOfInsideSymlink(t *testing.T) {
	r, realBase := setup(t)
	if err := os.Symlink(filepath.Join(realBase, "clean"), filepath.Join(r.Base, "alias")); err != nil {
		t.Skip("symlinks not supported")
	}
	got := r.Resolve("alias/sub/later")
	assert.Equal(t, filepath.Join(realBase, "clean", "sub", "later"), got)
	assert.False(t, r.Exists(got))
}

func TestExistsRejectsSymlinkOutsideBase(t *testing.T) {
	r, realBase := setup(t)
	outside := filepath.Join(filepath.Dir(r.Base), "outside")
	link := filepath.Join(realBase, "sneaky")
	if err := os.Symlink(outside, link); err != nil {
		t.Skip("symlinks not supported")
	}
	assert.False(t, r.Exists(link))
	assert.True(t, r.Exists(filepath.Join(realBase, "clean")))
}

func TestExistsRejectsFiles(t *testing.T) {
	r, realBase := setup(t)
	f := filepath.Join(realBase, "file.txt")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
	assert.False(t, r.Exists(f))
}

func TestNewDefaultsBase(t *testing.T) {
	r := New("")
	assert.Equal(t, DefaultDir, filepath.Base(r.Base))
}
