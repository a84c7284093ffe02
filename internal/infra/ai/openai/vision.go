package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/sashabaranov/go-openai"

	"github.com/bryanwahyu/automaton-tee/internal/domain/ai"
	"github.com/bryanwahyu/automaton-tee/internal/infra/ai/prompt"
)

// VisionDetector implements ai.WeaponDetector with a vision chat model.
// The classifier verdict maps onto a single detection.
type VisionDetector struct {
	client *Client
	Model  string
}

func NewVisionDetector(c *Client, model string) *VisionDetector {
	return &VisionDetector{client: c, Model: model}
}

func (d *VisionDetector) Detect(ctx context.Context, imagePath string) ([]ai.Detection, error) {
	raw, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	ct := mime.TypeByExtension(filepath.Ext(imagePath))
	if ct == "" {
		ct = "image/jpeg"
	}
	dataURI := fmt.Sprintf("data:%s;base64,%s", ct, base64.StdEncoding.EncodeToString(raw))

	model := d.Model
	if model == "" {
		model = d.client.Model
	}
	content, err := d.client.complete(ctx, model, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompt.GetVisionSystemPrompt()},
		{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: "Classify this image."},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURI,
					Detail: openai.ImageURLDetailLow,
				}},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	var v prompt.VisionVerdict
	if err := json.Unmarshal([]byte(prompt.StripFences(content)), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ai.ErrUnparsable, err)
	}
	if !v.Weapon {
		return nil, nil
	}
	return []ai.Detection{{ClassID: 0, ClassName: "weapon", Confidence: v.Confidence}}, nil
}
