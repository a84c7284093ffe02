// Package dataset maps opaque dataset references to directories inside a
// sandboxed base directory.
package dataset

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultDir is the base directory name used when none is configured.
const DefaultDir = "dev_datasets"

// Resolver implements attestation.Resolver.
type Resolver struct {
	Base string
}

// DefaultBase is <cwd>/dev_datasets.
func DefaultBase() string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return filepath.Join(wd, DefaultDir)
}

// New returns a resolver rooted at base, or at DefaultBase when base is empty.
func New(base string) *Resolver {
	if base == "" {
		base = DefaultBase()
	}
	return &Resolver{Base: base}
}

// Resolve maps ref to a directory under Base. Existing references that
// escape (via ".." or symlinks) fall back to the base directory itself. A
// missing target is checked through its deepest existing ancestor; when that
// ancestor leads outside Base the unresolved path is returned, and Exists
// keeps rejecting it even if the target shows up later.
func (r *Resolver) Resolve(ref string) string {
	base := filepath.Clean(r.Base)
	joined := filepath.Join(base, ref)

	realBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		// base belum ada: hanya cek leksikal
		if within(base, joined) {
			return joined
		}
		return base
	}
	if !within(base, joined) {
		return realBase
	}
	if real, err := filepath.EvalSymlinks(joined); err == nil {
		if within(realBase, real) {
			return real
		}
		return realBase
	}
	real, err := resolveExisting(joined)
	if err != nil || !within(realBase, real) {
		return joined
	}
	return real
}

// resolveExisting evaluates symlinks on the deepest existing ancestor of p
// and re-appends the missing tail.
func resolveExisting(p string) (string, error) {
	var tail []string
	cur := p
	for {
		real, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{real}, tail...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		tail = append([]string{filepath.Base(cur)}, tail...)
		cur = parent
	}
}

// Exists reports whether path is an existing directory whose real,
// symlink-resolved location is inside Base.
func (r *Resolver) Exists(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || !fi.IsDir() {
		return false
	}
	base := filepath.Clean(r.Base)
	realBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		return within(base, path)
	}
	real, err := filepath.EvalSymlinks(path)
	return err == nil && within(realBase, real)
}

func within(base, p string) bool {
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
