package narrative

import "time"

// Record is a generated narrative stored for auditing and retrieval
type Record struct {
	ExecutionID string    `json:"execution_id"`
	DatasetID   string    `json:"dataset_id"`
	Provider    string    `json:"provider"`
	Document    string    `json:"document"` // JSON object string
	CreatedAt   time.Time `json:"created_at"`
}

// Page is a paginated slice of narratives
type Page struct {
	Data       []*Record `json:"data"`
	Page       int       `json:"page"`
	PageSize   int       `json:"pageSize"`
	Total      int64     `json:"totalItems"`
	TotalPages int       `json:"totalPages"`
}
