package middleware

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bryanwahyu/automaton-tee/internal/domain/attestation"
)

// Input validation utilities

const maxFieldLen = 512

// ValidateDatasetRequest checks the shape of an analyze request. Field
// contents stay opaque; only the blob reference is required.
func ValidateDatasetRequest(req *attestation.DatasetRequest) error {
	fields := []struct {
		name, value string
	}{
		{"datasetId", req.DatasetID},
		{"datasetMerkleRoot", req.DatasetMerkleRoot},
		{"encryptedDataBlobId", req.EncryptedDataBlobID},
		{"policyVersion", req.PolicyVersion},
		{"modelVersion", req.ModelVersion},
	}
	for _, f := range fields {
		if len(f.value) > maxFieldLen {
			return attestation.InvalidRequest(fmt.Sprintf("%s exceeds %d bytes", f.name, maxFieldLen))
		}
		if strings.ContainsRune(f.value, 0) {
			return attestation.InvalidRequest(f.name + " contains a NUL byte")
		}
	}
	if strings.TrimSpace(req.EncryptedDataBlobID) == "" {
		return attestation.InvalidRequest("encryptedDataBlobId is required")
	}
	return nil
}

// ValidateExecutionID checks an execution id from the URL.
func ValidateExecutionID(id string) error {
	if id == "" {
		return attestation.InvalidRequest("execution id cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return attestation.InvalidRequest("invalid execution id format")
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}

// ValidatePage clamps a 1-based page number.
func ValidatePage(page int) int {
	if page <= 0 {
		return 1
	}
	return page
}
