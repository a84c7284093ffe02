package mysql

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// test ping
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
  execution_id        VARCHAR(64)  NOT NULL PRIMARY KEY,
  dataset_id          VARCHAR(255) NOT NULL,
  dataset_merkle_root VARCHAR(255) NOT NULL,
  blob_id             VARCHAR(512) NOT NULL,
  content_handle      VARCHAR(128) NOT NULL,
  policy_version      VARCHAR(64)  NOT NULL,
  model_version       VARCHAR(64)  NOT NULL,
  verdict             VARCHAR(16)  NOT NULL,
  score               INT          NOT NULL,
  findings_count      INT          NOT NULL,
  report_hash         VARCHAR(80)  NOT NULL,
  tee_nonce           VARCHAR(80)  NOT NULL,
  signature           VARCHAR(140) NOT NULL,
  enclave_pub_key     VARCHAR(80)  NOT NULL,
  snapshot_path       VARCHAR(1024) NOT NULL,
  archive_url         VARCHAR(1024) NOT NULL,
  response_json       JSON         NOT NULL,
  duration_ms         BIGINT       NOT NULL,
  created_at          DATETIME(3)  NOT NULL,
  KEY idx_tee_attestations_dataset (dataset_id, created_at)
)`,
	`CREATE TABLE IF NOT EXISTS tee_failures (
  id           BIGINT AUTO_INCREMENT PRIMARY KEY,
  execution_id VARCHAR(64)  NOT NULL,
  dataset_id   VARCHAR(255) NOT NULL,
  stage        VARCHAR(32)  NOT NULL,
  kind         VARCHAR(32)  NOT NULL,
  message      TEXT         NOT NULL,
  details_json JSON         NOT NULL,
  created_at   DATETIME(3)  NOT NULL,
  KEY idx_tee_failures_exec (execution_id, created_at)
)`,
	`CREATE TABLE IF NOT EXISTS tee_narratives (
  execution_id VARCHAR(64)  NOT NULL PRIMARY KEY,
  dataset_id   VARCHAR(255) NOT NULL,
  provider     VARCHAR(32)  NOT NULL,
  document     JSON         NOT NULL,
  created_at   DATETIME(3)  NOT NULL,
  KEY idx_tee_narratives_created (created_at)
)`,
}
