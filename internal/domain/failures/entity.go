package failures

import "time"

// Failure is a persisted pipeline failure entry
type Failure struct {
	ID          int64     `json:"id"`
	ExecutionID string    `json:"execution_id,omitempty"`
	DatasetID   string    `json:"dataset_id"`
	Stage       string    `json:"stage"` // resolve | snapshot | scan | weapon | sign | narrative | archive | persist
	Kind        string    `json:"kind"`
	Message     string    `json:"message"`
	DetailsJSON string    `json:"details_json,omitempty"` // raw JSON string
	CreatedAt   time.Time `json:"created_at"`
}
