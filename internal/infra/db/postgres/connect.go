package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the audit tables when missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tee_attestations (
  execution_id        TEXT PRIMARY KEY,
  dataset_id          TEXT NOT NULL,
  dataset_merkle_root TEXT NOT NULL,
  blob_id             TEXT NOT NULL,
  content_handle      TEXT NOT NULL,
  policy_version      TEXT NOT NULL,
  model_version       TEXT NOT NULL,
  verdict             TEXT NOT NULL,
  score               INTEGER NOT NULL,
  findings_count      INTEGER NOT NULL,
  report_hash         TEXT NOT NULL,
  tee_nonce           TEXT NOT NULL,
  signature           TEXT NOT NULL,
  enclave_pub_key     TEXT NOT NULL,
  snapshot_path       TEXT NOT NULL,
  archive_url         TEXT NOT NULL,
  response_json       JSONB NOT NULL,
  duration_ms         BIGINT NOT NULL,
  created_at          TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_tee_attestations_dataset ON tee_attestations (dataset_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS tee_failures (
  id           BIGSERIAL PRIMARY KEY,
  execution_id TEXT NOT NULL,
  dataset_id   TEXT NOT NULL,
  stage        TEXT NOT NULL,
  kind         TEXT NOT NULL,
  message      TEXT NOT NULL,
  details_json JSONB NOT NULL,
  created_at   TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_tee_failures_exec ON tee_failures (execution_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS tee_narratives (
  execution_id TEXT PRIMARY KEY,
  dataset_id   TEXT NOT NULL,
  provider     TEXT NOT NULL,
  document     JSONB NOT NULL,
  created_at   TIMESTAMPTZ NOT NULL
)`,
}

func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func jsonOrEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return "{}"
	}
	if !json.Valid([]byte(s)) {
		b, _ := json.Marshal(map[string]string{"raw": s})
		return string(b)
	}
	return s
}
