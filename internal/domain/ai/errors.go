package ai

import "errors"

// Errors shared by every external model adapter (narrative and weapon).
var (
	// ErrQuotaExceeded means the provider refused for quota or rate reasons (HTTP 429).
	ErrQuotaExceeded = errors.New("ai quota exceeded")
	// ErrUnparsable means the provider output is not the JSON shape that was asked for.
	ErrUnparsable = errors.New("ai output unparsable")
)
