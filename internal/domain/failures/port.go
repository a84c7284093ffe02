package failures

import "context"

// Repository defines persistence for pipeline failures
type Repository interface {
	Save(ctx context.Context, f *Failure) error
	ListByExecution(ctx context.Context, executionID string, limit int) ([]*Failure, error)
}
