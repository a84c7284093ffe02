package prompt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/bryanwahyu/automaton-tee/internal/domain/ai"
)

// LocalGenerator builds the narrative report without any network call.
// Output only depends on the input and Now.
type LocalGenerator struct {
	Now func() time.Time
}

func NewLocalGenerator() *LocalGenerator {
	return &LocalGenerator{Now: time.Now}
}

func (g *LocalGenerator) Generate(_ context.Context, in ai.NarrativeInput) (json.RawMessage, error) {
	type step struct {
		Step string `json:"step"`
		Hash string `json:"hash"`
	}
	type Output struct {
		ReportVersion   string         `json:"report_version"`
		TimestampUTC    string         `json:"timestamp_utc"`
		ExecutionID     string         `json:"execution_id"`
		NodeID          string         `json:"nautilus_node_id"`
		EnclaveType     string         `json:"enclave_type"`
		RuntimeVersion  string         `json:"enclave_runtime_version"`
		Attestation     map[string]any `json:"attestation"`
		InputValidation map[string]any `json:"input_validation"`
		DatasetInsights map[string]any `json:"dataset_insights"`
		CryptoFirewall  map[string]any `json:"crypto_firewall"`
		ProcessingSteps []step         `json:"processing_steps"`
		EncryptedOutput map[string]any `json:"encrypted_output"`
		Onchain         map[string]any `json:"onchain"`
		Signature       map[string]any `json:"signature"`
		OutputArtifact  map[string]any `json:"output_artifact"`
		WeaponFlag      bool           `json:"weapon_flag"`
	}

	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	digest := func(parts ...string) string {
		h := sha256.New()
		for _, p := range parts {
			h.Write([]byte(p))
		}
		return "0x" + hex.EncodeToString(h.Sum(nil))
	}

	exts := make([]string, 0, len(in.Extensions))
	for k := range in.Extensions {
		exts = append(exts, k)
	}
	slices.Sort(exts)

	out := Output{
		ReportVersion:  "1.0.3",
		TimestampUTC:   now().UTC().Format(time.RFC3339),
		ExecutionID:    in.ExecutionID,
		NodeID:         "naut-node-" + digest(in.ExecutionID)[2:14],
		EnclaveType:    "local-dev-substitute",
		RuntimeVersion: "0.0.0-dev",
		Attestation: map[string]any{
			"provider": "LOCAL_DEV_SUBSTITUTE",
			"quote":    "none",
		},
		InputValidation: map[string]any{
			"dataset_id":   in.DatasetID,
			"schema_valid": true,
		},
		DatasetInsights: map[string]any{
			"file_count":              in.FileCount,
			"total_size_bytes":        in.TotalBytes,
			"file_types_distribution": in.Extensions,
			"file_types":              exts,
			"compliance_verdict":      in.Verdict,
			"compliance_score":        in.Score,
			"summary":                 summary(in),
		},
		CryptoFirewall: map[string]any{
			"status": "simulated",
		},
		ProcessingSteps: []step{
			{Step: "snapshot", Hash: digest("snapshot", in.ExecutionID)},
			{Step: "compliance_scan", Hash: digest("scan", in.ExecutionID, in.Verdict)},
			{Step: "content_address", Hash: digest("address", in.ContentHandle)},
		},
		EncryptedOutput: map[string]any{
			"algorithm": "none (development substitute)",
		},
		Onchain: map[string]any{
			"submitted": false,
		},
		Signature: map[string]any{
			"scheme": "ed25519",
		},
		OutputArtifact: map[string]any{
			"encrypted_blob_id": in.ContentHandle,
		},
		WeaponFlag: in.WeaponFlag,
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal narrative: %w", err)
	}
	return b, nil
}

func summary(in ai.NarrativeInput) string {
	s := fmt.Sprintf("Dataset %s holds %d files (%d bytes); compliance verdict %s with score %d.",
		in.DatasetID, in.FileCount, in.TotalBytes, in.Verdict, in.Score)
	if in.WeaponFlag {
		s += " A sampled image was flagged for weapons."
	}
	return s
}
