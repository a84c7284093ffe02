package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/bryanwahyu/automaton-tee/internal/application"
	domai "github.com/bryanwahyu/automaton-tee/internal/domain/ai"
	"github.com/bryanwahyu/automaton-tee/internal/domain/attestation"
	"github.com/bryanwahyu/automaton-tee/internal/domain/narrative"
	"github.com/bryanwahyu/automaton-tee/internal/infra/fswalk"
)

// Service generates, pins and stores narrative documents.
type Service struct {
	generator domai.NarrativeGenerator
	Repo      narrative.Repository // optional
	Provider  string
	Clock     application.Clock
}

func NewService(gen domai.NarrativeGenerator, provider string) *Service {
	return &Service{generator: gen, Provider: provider, Clock: application.SystemClock{}}
}

// NarrateCommand carries the facts of one finished pipeline run.
type NarrateCommand struct {
	DatasetID     string
	ExecutionID   string
	SnapshotPath  string
	ContentHandle string
	Verdict       string
	Score         int
	WeaponFlag    bool
}

// Narrate collects snapshot stats, asks the generator for a document and
// overwrites the fields the model must not invent.
func (s *Service) Narrate(ctx context.Context, cmd NarrateCommand) (json.RawMessage, error) {
	count, total, exts, err := CollectStats(cmd.SnapshotPath)
	if err != nil {
		return nil, err
	}
	doc, err := s.generator.Generate(ctx, domai.NarrativeInput{
		DatasetID:     cmd.DatasetID,
		ExecutionID:   cmd.ExecutionID,
		FileCount:     count,
		TotalBytes:    total,
		Extensions:    exts,
		WeaponFlag:    cmd.WeaponFlag,
		Verdict:       cmd.Verdict,
		Score:         cmd.Score,
		ContentHandle: cmd.ContentHandle,
	})
	if err != nil {
		return nil, attestation.ExternalServiceError("narrative generation", err)
	}
	pinned, err := Pin(doc, cmd.ExecutionID, cmd.ContentHandle, cmd.WeaponFlag)
	if err != nil {
		return nil, attestation.ExternalServiceError("narrative generation", err)
	}
	return pinned, nil
}

// Store persists a narrative; a nil Repo makes it a no-op.
func (s *Service) Store(ctx context.Context, cmd NarrateCommand, doc json.RawMessage) error {
	if s.Repo == nil {
		return nil
	}
	return s.Repo.Save(ctx, &narrative.Record{
		ExecutionID: cmd.ExecutionID,
		DatasetID:   cmd.DatasetID,
		Provider:    s.Provider,
		Document:    string(doc),
		CreatedAt:   s.Clock.Now(),
	})
}

// ListNarratives returns a page of stored narratives
func (s *Service) ListNarratives(ctx context.Context, page, pageSize int) (*narrative.Page, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	items, total, err := s.Repo.Paginate(ctx, page, pageSize)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*narrative.Record{}
	}
	return &narrative.Page{
		Data:       items,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}, nil
}

// ByExecution returns the stored narrative of one execution, nil when absent.
func (s *Service) ByExecution(ctx context.Context, executionID string) (*narrative.Record, error) {
	return s.Repo.LatestByExecution(ctx, executionID)
}

// CollectStats counts files, bytes and extensions (lowercase, no dot,
// "unknown" when absent) under root.
func CollectStats(root string) (int, int64, map[string]int, error) {
	var (
		count int
		total int64
	)
	exts := map[string]int{}
	for e, err := range fswalk.Files(root) {
		if err != nil {
			return 0, 0, nil, attestation.IOError("collect stats", root, err)
		}
		count++
		total += e.Size
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(e.Rel), "."))
		if ext == "" {
			ext = "unknown"
		}
		exts[ext]++
	}
	return count, total, exts, nil
}

// Pin sets execution_id, weapon_flag and output_artifact.encrypted_blob_id to
// the true values, whatever the generator produced.
func Pin(doc json.RawMessage, executionID, handle string, weaponFlag bool) (json.RawMessage, error) {
	var obj map[string]any
	if err := json.Unmarshal(doc, &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("%w: narrative is not an object", domai.ErrUnparsable)
	}
	obj["execution_id"] = executionID
	obj["weapon_flag"] = weaponFlag
	artifact, ok := obj["output_artifact"].(map[string]any)
	if !ok {
		artifact = map[string]any{}
	}
	artifact["encrypted_blob_id"] = handle
	obj["output_artifact"] = artifact

	b, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return b, nil
}
