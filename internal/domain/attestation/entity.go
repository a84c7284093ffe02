package attestation

import (
	"time"
)

// ExecutionID identifies one run of the pipeline. Minted once per request.
type ExecutionID string

// FindingType enum
type FindingType string

const (
	FindingEmail  FindingType = "EMAIL"
	FindingPhone  FindingType = "PHONE"
	FindingIBAN   FindingType = "IBAN"
	FindingWeapon FindingType = "WEAPON"
)

// Verdict enum
type Verdict string

const (
	VerdictAllow Verdict = "ALLOW"
	VerdictWarn  Verdict = "WARN"
	VerdictBlock Verdict = "BLOCK"
)

const (
	// EnclaveMeasurement is the fixed measurement of the local substitute enclave.
	EnclaveMeasurement = "substitute-local-dev-nautilus-v1"
	// Provider marks every attestation as coming from the dev substitute,
	// so it cannot be mistaken for a hardware quote.
	Provider = "LOCAL_DEV_SUBSTITUTE"
)

// DatasetRequest is the caller input. All fields are opaque strings.
type DatasetRequest struct {
	DatasetID           string `json:"datasetId"`
	DatasetMerkleRoot   string `json:"datasetMerkleRoot"`
	// EncryptedDataBlobID names the dataset directory. The report echoes it;
	// the signed payload does not (see TeePayload).
	EncryptedDataBlobID string `json:"encryptedDataBlobId"`
	PolicyVersion       string `json:"policyVersion"`
	ModelVersion        string `json:"modelVersion"`
}

// ComplianceFinding is one detected signal. Path is slash separated and
// relative to the snapshot root.
type ComplianceFinding struct {
	Type   FindingType `json:"type"`
	Path   string      `json:"path"`
	Detail string      `json:"detail"`
}

// ComplianceReport is hashed in canonical form to obtain the report hash.
type ComplianceReport struct {
	DatasetID           string              `json:"datasetId"`
	DatasetMerkleRoot   string              `json:"datasetMerkleRoot"`
	EncryptedDataBlobID string              `json:"encryptedDataBlobId"`
	PolicyVersion       string              `json:"policyVersion"`
	ModelVersion        string              `json:"modelVersion"`
	Verdict             Verdict             `json:"verdict"`
	Score               int                 `json:"score"`
	Findings            []ComplianceFinding `json:"findings"`
}

// TeePayload is the exact value that gets signed.
// EncryptedDataBlobID carries the content handle of the simulated re-encrypted
// output, never the caller's encryptedDataBlobId.
type TeePayload struct {
	DatasetMerkleRoot   string `json:"datasetMerkleRoot"`
	EncryptedDataBlobID string `json:"encryptedDataBlobId"`
	PolicyVersion       string `json:"policyVersion"`
	ReportHash          string `json:"reportHash"`
	ModelVersion        string `json:"modelVersion"`
	TeeNonce            string `json:"teeNonce"`
}

// Attestation describes the simulated execution environment.
type Attestation struct {
	TeeMeasurement string `json:"teeMeasurement"`
	TeeNonce       string `json:"teeNonce"`
	EnclavePubKey  string `json:"enclavePubKey"`
	Provider       string `json:"provider"`
}

// AnalyzeDatasetResponse is the signed envelope returned to callers.
type AnalyzeDatasetResponse struct {
	Attestation Attestation      `json:"attestation"`
	Payload     TeePayload       `json:"payload"`
	Signature   string           `json:"signature"`
	Report      ComplianceReport `json:"report"`
}

// Record is the audit row persisted for every assembled envelope.
type Record struct {
	ExecutionID       ExecutionID `json:"execution_id"`
	DatasetID         string      `json:"dataset_id"`
	DatasetMerkleRoot string      `json:"dataset_merkle_root"`
	BlobID            string      `json:"blob_id"`
	ContentHandle     string      `json:"content_handle"`
	PolicyVersion     string      `json:"policy_version"`
	ModelVersion      string      `json:"model_version"`
	Verdict           Verdict     `json:"verdict"`
	Score             int         `json:"score"`
	FindingsCount     int         `json:"findings_count"`
	ReportHash        string      `json:"report_hash"`
	TeeNonce          string      `json:"tee_nonce"`
	Signature         string      `json:"signature"`
	EnclavePubKey     string      `json:"enclave_pub_key"`
	SnapshotPath      string      `json:"snapshot_path"`
	ArchiveURL        string      `json:"archive_url,omitempty"`
	ResponseJSON      string      `json:"response_json,omitempty"`
	DurationMS        int64       `json:"duration_ms"`
	CreatedAt         time.Time   `json:"created_at"`
}
