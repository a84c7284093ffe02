package keystore

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	ReportHash string `json:"reportHash"`
	TeeNonce   string `json:"teeNonce"`
}

func TestSignVerify(t *testing.T) {
	ks, err := Generate(rand.Reader)
	require.NoError(t, err)

	p := payload{ReportHash: "0xabc", TeeNonce: "0x01"}
	sig, err := ks.Sign(p)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sig, "0x"))
	assert.Len(t, sig, 2+128)
	assert.Len(t, ks.PublicKeyHex(), 2+64)

	assert.True(t, Verify(p, sig, ks.PublicKeyHex()))
	assert.True(t, ks.Verify(p, strings.TrimPrefix(sig, "0x"), strings.TrimPrefix(ks.PublicKeyHex(), "0x")))

	// map with same content verifies, canonical form is key-order independent
	assert.True(t, Verify(map[string]string{"teeNonce": "0x01", "reportHash": "0xabc"}, sig, ks.PublicKeyHex()))
}

func TestVerifyRejectsTampering(t *testing.T) {
	ks, err := Generate(rand.Reader)
	require.NoError(t, err)
	p := payload{ReportHash: "0xabc", TeeNonce: "0x01"}
	sig, err := ks.Sign(p)
	require.NoError(t, err)

	assert.False(t, Verify(payload{ReportHash: "0xabd", TeeNonce: "0x01"}, sig, ks.PublicKeyHex()))

	raw, err := hex.DecodeString(sig[2:])
	require.NoError(t, err)
	raw[10] ^= 0x01
	assert.False(t, Verify(p, "0x"+hex.EncodeToString(raw), ks.PublicKeyHex()))

	other, err := Generate(rand.Reader)
	require.NoError(t, err)
	assert.False(t, Verify(p, sig, other.PublicKeyHex()))

	assert.False(t, Verify(p, "0xzz", ks.PublicKeyHex()))
	assert.False(t, Verify(p, sig, "0x1234"))
}

func TestProcessIsSingleton(t *testing.T) {
	a, err := Process()
	require.NoError(t, err)
	b, err := Process()
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, a.PublicKeyHex(), b.PublicKeyHex())
}
