package ai

import (
	"context"
	"encoding/json"
)

// Box is a detection bounding box in pixel coordinates.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Detection is one object found in an image.
type Detection struct {
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// WeaponDetector port (object detection over a single image)
type WeaponDetector interface {
	Detect(ctx context.Context, imagePath string) ([]Detection, error)
}

// NarrativeInput is the dataset summary handed to a narrative generator.
type NarrativeInput struct {
	DatasetID     string         `json:"dataset_id"`
	ExecutionID   string         `json:"execution_id"`
	FileCount     int            `json:"file_count"`
	TotalBytes    int64          `json:"total_bytes"`
	Extensions    map[string]int `json:"extensions"`
	WeaponFlag    bool           `json:"weapon_flag"`
	Verdict       string         `json:"verdict"`
	Score         int            `json:"score"`
	ContentHandle string         `json:"content_handle"`
}

// NarrativeGenerator port. The result must be a JSON object.
type NarrativeGenerator interface {
	Generate(ctx context.Context, in NarrativeInput) (json.RawMessage, error)
}
