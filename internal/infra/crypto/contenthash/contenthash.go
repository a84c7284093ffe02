// Package contenthash derives the content handle of a snapshot.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/bryanwahyu/automaton-tee/internal/domain/attestation"
	"github.com/bryanwahyu/automaton-tee/internal/infra/fswalk"
)

// Scheme prefix of every handle.
const Scheme = "walrus://"

// Addresser implements attestation.ContentAddresser.
type Addresser struct{}

func (Addresser) Derive(root string, id attestation.ExecutionID) (string, error) {
	return Derive(root, id)
}

// Derive hashes the execution id, then every regular file's relative path
// followed by its bytes, in sorted path order.
func Derive(root string, id attestation.ExecutionID) (string, error) {
	h := sha256.New()
	h.Write([]byte(id))
	for e, err := range fswalk.Files(root) {
		if err != nil {
			return "", attestation.IOError("walk snapshot", root, err)
		}
		h.Write([]byte(e.Rel))
		if err := copyFile(h, e.Path); err != nil {
			return "", attestation.IOError("read snapshot file", e.Rel, err)
		}
	}
	return Scheme + "0x" + hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
