package prompt

// GetVisionSystemPrompt directs an image classifier to answer with VisionVerdict JSON.
func GetVisionSystemPrompt() string {
	return `You are an image safety classifier. Decide whether the image shows a firearm or other weapon.
Respond with one JSON object only, no markdown:
{"weapon": <true|false>, "confidence": <number between 0 and 1>, "description": "<short description>"}`
}

// VisionVerdict is the structure the vision classifier must return.
type VisionVerdict struct {
	Weapon      bool    `json:"weapon"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
}
