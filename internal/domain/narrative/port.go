package narrative

import "context"

// Repository port for persisting and querying narratives
type Repository interface {
	Save(ctx context.Context, r *Record) error
	Paginate(ctx context.Context, page, pageSize int) ([]*Record, int64, error)
	LatestByExecution(ctx context.Context, executionID string) (*Record, error)
}
