// Package fswalk lists the regular files under a directory in a stable order.
package fswalk

import (
	"io/fs"
	"iter"
	"path/filepath"
	"slices"
	"strings"
)

// Entry is one regular file found under the walk root.
type Entry struct {
	Rel  string // slash separated, relative to root
	Path string // absolute or root-joined OS path
	Size int64
}

// Files yields every regular file below root, ordered by relative path.
// Symlinks and special files are skipped. The sequence can be ranged over
// more than once; each range walks the tree again.
func Files(root string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		entries, err := collect(root)
		if err != nil {
			yield(Entry{}, err)
			return
		}
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

// List is Files collected into a slice.
func List(root string) ([]Entry, error) {
	return collect(root)
}

func collect(root string) ([]Entry, error) {
	var out []Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, Entry{Rel: filepath.ToSlash(rel), Path: path, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	// WalkDir orders per directory, not by full path ("a/b" would precede "a.txt")
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Rel, b.Rel) })
	return out, nil
}
