package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bryanwahyu/automaton-tee/internal/domain/ai"
)

// GetSystemPrompt provides strict directions and the report skeleton for JSON output.
func GetSystemPrompt() string {
	return `You are a compliance engine running inside a TEE. You must produce one valid JSON object only (no markdown, no commentary, no code fences).

Produce a JSON object with the same structure and field names as this example (do NOT reuse the example values):
{
  "report_version": "1.0.3",
  "timestamp_utc": "2025-11-23T02:54:11Z",
  "execution_id": "exec-...",
  "nautilus_node_id": "naut-node-...",
  "enclave_type": "sgx-dcap",
  "enclave_runtime_version": "2.7.1",
  "attestation": { "...": "..." },
  "input_validation": { "...": "..." },
  "dataset_insights": { "...": "..." },
  "crypto_firewall": { "...": "..." },
  "processing_steps": [ { "step": "...", "hash": "0x..." } ],
  "encrypted_output": { "...": "..." },
  "onchain": { "...": "..." },
  "signature": { "...": "..." },
  "output_artifact": { "...": "..." },
  "weapon_flag": false
}

Values should be plausible but synthetic; you are not connected to any chain.`
}

// GetUserPrompt builds the per-dataset message with the values the model must echo back.
func GetUserPrompt(in ai.NarrativeInput) string {
	ext, err := json.Marshal(in.Extensions)
	if err != nil {
		ext = []byte("{}")
	}
	return fmt.Sprintf(`Rules:
- Set "weapon_flag" to %t.
- Set "execution_id" exactly to %q.
- Set "output_artifact.encrypted_blob_id" exactly to %q.

Base your high-level narrative on the following dataset info:
- dataset_id = %q
- file_count = %d
- total_size_bytes = %d
- file_types_distribution = %s
- compliance_verdict = %s (score %d)`,
		in.WeaponFlag, in.ExecutionID, in.ContentHandle,
		in.DatasetID, in.FileCount, in.TotalBytes, ext, in.Verdict, in.Score)
}

// StripFences removes a surrounding markdown code fence (optionally tagged json).
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.Trim(s, "`")
	if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
		s = s[4:]
	}
	return strings.TrimSpace(s)
}

// ParseObject strips fences and checks the result is a single JSON object.
func ParseObject(raw string) (json.RawMessage, error) {
	s := StripFences(raw)
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("%w: %.120s", ai.ErrUnparsable, s)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return nil, fmt.Errorf("%w: %v", ai.ErrUnparsable, err)
	}
	return json.RawMessage(buf.Bytes()), nil
}
