package postgres

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/bryanwahyu/automaton-tee/internal/domain/narrative"
)

type NarrativeRepository struct{ db *sql.DB }

func NewNarrativeRepository(db *sql.DB) *NarrativeRepository {
	return &NarrativeRepository{db: db}
}

// Save inserts or updates a narrative record
func (r *NarrativeRepository) Save(ctx context.Context, n *domain.Record) error {
	const q = `
INSERT INTO tee_narratives
  (execution_id, dataset_id, provider, document, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (execution_id) DO UPDATE SET
  provider=EXCLUDED.provider,
  document=EXCLUDED.document;
`
	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q, n.ExecutionID, stringOrDash(n.DatasetID), stringOrDash(n.Provider), jsonOrEmpty(n.Document), createdAt)
	return err
}

// Paginate returns a page ordered by created_at desc, plus the total count
func (r *NarrativeRepository) Paginate(ctx context.Context, page, pageSize int) ([]*domain.Record, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tee_narratives;`).Scan(&total); err != nil {
		return nil, 0, err
	}
	const q = `
SELECT execution_id, dataset_id, provider, document, created_at
FROM tee_narratives
ORDER BY created_at DESC, execution_id DESC
LIMIT $1 OFFSET $2;`
	rows, err := r.db.QueryContext(ctx, q, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*domain.Record
	for rows.Next() {
		var n domain.Record
		if err := rows.Scan(&n.ExecutionID, &n.DatasetID, &n.Provider, &n.Document, &n.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &n)
	}
	return out, total, rows.Err()
}

// LatestByExecution returns nil, nil when nothing is stored
func (r *NarrativeRepository) LatestByExecution(ctx context.Context, executionID string) (*domain.Record, error) {
	const q = `
SELECT execution_id, dataset_id, provider, document, created_at
FROM tee_narratives WHERE execution_id=$1 LIMIT 1;`
	var n domain.Record
	err := r.db.QueryRowContext(ctx, q, executionID).Scan(&n.ExecutionID, &n.DatasetID, &n.Provider, &n.Document, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}
