// Package snapshot copies a dataset into an isolated per-execution directory.
package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bryanwahyu/automaton-tee/internal/domain/attestation"
	"github.com/bryanwahyu/automaton-tee/internal/infra/fswalk"
)

// DefaultDir is the cache directory name used when none is configured.
const DefaultDir = ".tee_cache"

// Cache implements attestation.SnapshotCache.
type Cache struct {
	Root string
}

// New returns a cache at root, or <cwd>/.tee_cache when root is empty.
func New(root string) *Cache {
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			wd = "."
		}
		root = filepath.Join(wd, DefaultDir)
	}
	return &Cache{Root: root}
}

// Snapshot copies every regular file of source into <Root>/<id>. Copies are
// read-only. The target must not exist yet; on failure the partial target is
// removed.
func (c *Cache) Snapshot(source string, id attestation.ExecutionID) (string, error) {
	if id == "" {
		return "", attestation.InvalidRequest("empty execution id")
	}
	if err := os.MkdirAll(c.Root, 0o755); err != nil {
		return "", attestation.IOError("create cache root", c.Root, err)
	}
	target := filepath.Join(c.Root, string(id))
	if err := os.Mkdir(target, 0o755); err != nil {
		return "", attestation.IOError("create snapshot dir", target, err)
	}
	if err := copyTree(source, target); err != nil {
		_ = os.RemoveAll(target)
		return "", err
	}
	return target, nil
}

func copyTree(source, target string) error {
	for e, err := range fswalk.Files(source) {
		if err != nil {
			return attestation.IOError("walk dataset", source, err)
		}
		dst := filepath.Join(target, filepath.FromSlash(e.Rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return attestation.IOError("create snapshot subdir", e.Rel, err)
		}
		if err := copyFile(e.Path, dst); err != nil {
			return attestation.IOError("copy file", e.Rel, err)
		}
	}
	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if _, err = io.Copy(out, in); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return os.Chmod(dst, 0o444)
}
