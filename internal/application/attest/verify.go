package attest

import (
	"github.com/bryanwahyu/automaton-tee/internal/domain/attestation"
	"github.com/bryanwahyu/automaton-tee/internal/infra/crypto/canonical"
	"github.com/bryanwahyu/automaton-tee/internal/infra/crypto/keystore"
)

// Verification is the outcome of checking a returned envelope.
type Verification struct {
	Valid         bool     `json:"valid"`
	SignatureOK   bool     `json:"signatureOk"`
	NonceMatch    bool     `json:"nonceMatch"`
	ReportHashOK  bool     `json:"reportHashOk"`
	MeasurementOK bool     `json:"measurementOk"`
	Problems      []string `json:"problems"`
}

// Verify checks an envelope offline against the public key it carries.
func Verify(resp *attestation.AnalyzeDatasetResponse) Verification {
	v := Verification{Problems: []string{}}
	if resp == nil {
		v.Problems = append(v.Problems, "empty envelope")
		return v
	}

	v.SignatureOK = keystore.Verify(resp.Payload, resp.Signature, resp.Attestation.EnclavePubKey)
	if !v.SignatureOK {
		v.Problems = append(v.Problems, "signature does not match payload")
	}

	v.NonceMatch = resp.Payload.TeeNonce != "" && resp.Payload.TeeNonce == resp.Attestation.TeeNonce
	if !v.NonceMatch {
		v.Problems = append(v.Problems, "payload and attestation nonces differ")
	}

	if h, err := canonical.Hash(resp.Report); err == nil && h == resp.Payload.ReportHash {
		v.ReportHashOK = true
	} else {
		v.Problems = append(v.Problems, "report hash mismatch")
	}

	v.MeasurementOK = resp.Attestation.TeeMeasurement == attestation.EnclaveMeasurement &&
		resp.Attestation.Provider == attestation.Provider
	if !v.MeasurementOK {
		v.Problems = append(v.Problems, "unexpected measurement or provider")
	}

	v.Valid = len(v.Problems) == 0
	return v
}
