// Package keystore holds the enclave Ed25519 keypair.
package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/bryanwahyu/automaton-tee/internal/infra/crypto/canonical"
)

// KeyStore signs canonical encodings with a key that never leaves memory.
type KeyStore struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// Generate creates a new keypair from the given entropy source.
func Generate(r io.Reader) (*KeyStore, error) {
	if r == nil {
		r = rand.Reader
	}
	pub, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &KeyStore{priv: priv, pub: pub}, nil
}

// Process returns the process-wide keystore, generated on first use.
var Process = sync.OnceValues(func() (*KeyStore, error) {
	return Generate(rand.Reader)
})

// PublicKeyHex is the 32-byte public key as 0x-prefixed lowercase hex.
func (k *KeyStore) PublicKeyHex() string {
	return "0x" + hex.EncodeToString(k.pub)
}

// Sign signs the canonical encoding of v.
func (k *KeyStore) Sign(v any) (string, error) {
	msg, err := canonical.Marshal(v)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(ed25519.Sign(k.priv, msg)), nil
}

// Verify checks sigHex over v against pubKeyHex.
func (k *KeyStore) Verify(v any, sigHex, pubKeyHex string) bool {
	return Verify(v, sigHex, pubKeyHex)
}

// Verify checks an Ed25519 signature over the canonical encoding of v.
// Malformed hex or wrong lengths simply fail verification.
func Verify(v any, sigHex, pubKeyHex string) bool {
	sig, err := decodeHex(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	pub, err := decodeHex(pubKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	msg, err := canonical.Marshal(v)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}
