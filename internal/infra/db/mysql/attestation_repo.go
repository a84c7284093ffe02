package mysql

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/bryanwahyu/automaton-tee/internal/domain/attestation"
)

type AttestationRepository struct {
	db *sql.DB
}

func NewAttestationRepository(db *sql.DB) *AttestationRepository {
	return &AttestationRepository{db: db}
}

const attestationColumns = `execution_id, dataset_id, dataset_merkle_root, blob_id, content_handle,
  policy_version, model_version, verdict, score, findings_count,
  report_hash, tee_nonce, signature, enclave_pub_key, snapshot_path,
  archive_url, response_json, duration_ms, created_at`

// Save insert/update attestation record
func (r *AttestationRepository) Save(ctx context.Context, a *domain.Record) error {
	const q = `
INSERT INTO tee_attestations (` + attestationColumns + `)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
  archive_url=VALUES(archive_url), response_json=VALUES(response_json), duration_ms=VALUES(duration_ms);
`
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		string(a.ExecutionID), stringOrDash(a.DatasetID), a.DatasetMerkleRoot, a.BlobID, a.ContentHandle,
		a.PolicyVersion, a.ModelVersion, string(a.Verdict), a.Score, a.FindingsCount,
		a.ReportHash, a.TeeNonce, a.Signature, a.EnclavePubKey, a.SnapshotPath,
		a.ArchiveURL, jsonOrEmpty(a.ResponseJSON), a.DurationMS, created,
	)
	return err
}

// Get by execution id; sql.ErrNoRows when absent
func (r *AttestationRepository) Get(ctx context.Context, id domain.ExecutionID) (*domain.Record, error) {
	const q = `SELECT ` + attestationColumns + ` FROM tee_attestations WHERE execution_id=? LIMIT 1;`
	return scanRecord(r.db.QueryRowContext(ctx, q, string(id)))
}

// Latest records, optionally filtered by dataset
func (r *AttestationRepository) Latest(ctx context.Context, datasetID string, limit int) ([]*domain.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if datasetID == "" {
		const q = `SELECT ` + attestationColumns + ` FROM tee_attestations ORDER BY created_at DESC, execution_id DESC LIMIT ?;`
		rows, err = r.db.QueryContext(ctx, q, limit)
	} else {
		const q = `SELECT ` + attestationColumns + ` FROM tee_attestations WHERE dataset_id=? ORDER BY created_at DESC, execution_id DESC LIMIT ?;`
		rows, err = r.db.QueryContext(ctx, q, datasetID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.Record, error) {
	var a domain.Record
	var id, verdict string
	if err := row.Scan(
		&id, &a.DatasetID, &a.DatasetMerkleRoot, &a.BlobID, &a.ContentHandle,
		&a.PolicyVersion, &a.ModelVersion, &verdict, &a.Score, &a.FindingsCount,
		&a.ReportHash, &a.TeeNonce, &a.Signature, &a.EnclavePubKey, &a.SnapshotPath,
		&a.ArchiveURL, &a.ResponseJSON, &a.DurationMS, &a.CreatedAt,
	); err != nil {
		return nil, err
	}
	a.ExecutionID = domain.ExecutionID(id)
	a.Verdict = domain.Verdict(verdict)
	return &a, nil
}
