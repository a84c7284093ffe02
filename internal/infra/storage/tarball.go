package storage

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/bryanwahyu/automaton-tee/internal/infra/fswalk"
)

// WriteTarZst writes every regular file under root to w as a zstd compressed
// tarball, entries in sorted relative-path order.
func WriteTarZst(w io.Writer, root string) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	for e, err := range fswalk.Files(root) {
		if err != nil {
			return err
		}
		if err := addFile(tw, e); err != nil {
			return fmt.Errorf("tar %s: %w", e.Rel, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return zw.Close()
}

func addFile(tw *tar.Writer, e fswalk.Entry) error {
	f, err := os.Open(e.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := tw.WriteHeader(&tar.Header{
		Name:     e.Rel,
		Mode:     0o444,
		Size:     e.Size,
		Typeflag: tar.TypeReg,
	}); err != nil {
		return err
	}
	_, err = io.CopyN(tw, f, e.Size)
	return err
}

// ObjectSegment makes an opaque id safe to use as a single object key segment.
func ObjectSegment(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	if s == "" {
		return "_"
	}
	return s
}
