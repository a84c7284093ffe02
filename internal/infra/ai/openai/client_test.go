package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-tee/internal/domain/ai"
)

func fakeServer(t *testing.T, status int, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit","code":"rate_limit_exceeded"}}`))
			return
		}
		resp := map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   "gpt-4o-mini",
			"choices": []any{map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerate(t *testing.T) {
	var seen map[string]any
	srv := fakeServer(t, http.StatusOK, "```json\n{\"execution_id\":\"exec-1\"}\n```", &seen)
	c := NewClient("sk-test", srv.URL, "gpt-4o-mini")

	doc, err := c.Generate(context.Background(), ai.NarrativeInput{ExecutionID: "exec-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"execution_id":"exec-1"}`, string(doc))
	assert.Equal(t, "gpt-4o-mini", seen["model"])
	assert.NotNil(t, seen["max_tokens"])
}

func TestGenerateReasoningModelUsesCompletionTokens(t *testing.T) {
	var seen map[string]any
	srv := fakeServer(t, http.StatusOK, `{"a":1}`, &seen)
	c := NewClient("sk-test", srv.URL, "o3-mini")
	_, err := c.Generate(context.Background(), ai.NarrativeInput{})
	require.NoError(t, err)
	assert.NotNil(t, seen["max_completion_tokens"])
}

func TestGenerateQuota(t *testing.T) {
	srv := fakeServer(t, http.StatusTooManyRequests, "", nil)
	c := NewClient("sk-test", srv.URL, "gpt-4o-mini")
	_, err := c.Generate(context.Background(), ai.NarrativeInput{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ai.ErrQuotaExceeded))
}

func TestGenerateNonObject(t *testing.T) {
	srv := fakeServer(t, http.StatusOK, "sorry, I cannot do that", nil)
	c := NewClient("sk-test", srv.URL, "gpt-4o-mini")
	_, err := c.Generate(context.Background(), ai.NarrativeInput{})
	assert.True(t, errors.Is(err, ai.ErrUnparsable))
}

func TestVisionDetector(t *testing.T) {
	img := filepath.Join(t.TempDir(), "gun.png")
	require.NoError(t, os.WriteFile(img, []byte("\x89PNG fake"), 0o644))

	var seen map[string]any
	srv := fakeServer(t, http.StatusOK, `{"weapon":true,"confidence":0.91,"description":"handgun"}`, &seen)
	d := NewVisionDetector(NewClient("sk-test", srv.URL, "gpt-4o-mini"), "")

	dets, err := d.Detect(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.InDelta(t, 0.91, dets[0].Confidence, 1e-9)

	body, err := json.Marshal(seen["messages"])
	require.NoError(t, err)
	assert.Contains(t, string(body), "data:image/png;base64,")
}

func TestVisionDetectorNoWeapon(t *testing.T) {
	img := filepath.Join(t.TempDir(), "cat.jpg")
	require.NoError(t, os.WriteFile(img, []byte("jpeg"), 0o644))
	srv := fakeServer(t, http.StatusOK, `{"weapon":false,"confidence":0.02,"description":"cat"}`, nil)
	d := NewVisionDetector(NewClient("sk-test", srv.URL, "gpt-4o-mini"), "gpt-4o")

	dets, err := d.Detect(context.Background(), img)
	require.NoError(t, err)
	assert.Empty(t, dets)
}
