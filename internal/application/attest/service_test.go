package attest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-tee/internal/application"
	appai "github.com/bryanwahyu/automaton-tee/internal/application/ai"
	domai "github.com/bryanwahyu/automaton-tee/internal/domain/ai"
	"github.com/bryanwahyu/automaton-tee/internal/domain/attestation"
	"github.com/bryanwahyu/automaton-tee/internal/domain/failures"
	"github.com/bryanwahyu/automaton-tee/internal/infra/ai/prompt"
	"github.com/bryanwahyu/automaton-tee/internal/infra/compliance"
	"github.com/bryanwahyu/automaton-tee/internal/infra/crypto/canonical"
	"github.com/bryanwahyu/automaton-tee/internal/infra/crypto/contenthash"
	"github.com/bryanwahyu/automaton-tee/internal/infra/crypto/keystore"
	"github.com/bryanwahyu/automaton-tee/internal/infra/dataset"
	"github.com/bryanwahyu/automaton-tee/internal/infra/snapshot"
	"github.com/bryanwahyu/automaton-tee/internal/logger"
)

type memFailures struct{ saved []*failures.Failure }

func (m *memFailures) Save(_ context.Context, f *failures.Failure) error {
	m.saved = append(m.saved, f)
	return nil
}

func (m *memFailures) ListByExecution(context.Context, string, int) ([]*failures.Failure, error) {
	return m.saved, nil
}

type memRecords struct{ saved []*attestation.Record }

func (m *memRecords) Save(_ context.Context, r *attestation.Record) error {
	m.saved = append(m.saved, r)
	return nil
}

func (m *memRecords) Get(_ context.Context, id attestation.ExecutionID) (*attestation.Record, error) {
	for _, r := range m.saved {
		if r.ExecutionID == id {
			return r, nil
		}
	}
	return nil, errors.New("missing")
}

func (m *memRecords) Latest(context.Context, string, int) ([]*attestation.Record, error) {
	return m.saved, nil
}

type fakeArchive struct{ err error }

func (f fakeArchive) Archive(_ context.Context, _ *attestation.AnalyzeDatasetResponse, id attestation.ExecutionID, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "http://minio/bucket/" + string(id) + "/attestation.json", nil
}

type fakeDetector struct {
	dets  []domai.Detection
	err   error
	calls []string
}

func (f *fakeDetector) Detect(_ context.Context, path string) ([]domai.Detection, error) {
	f.calls = append(f.calls, filepath.Base(path))
	return f.dets, f.err
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, domai.NarrativeInput) (json.RawMessage, error) {
	return nil, domai.ErrQuotaExceeded
}

type env struct {
	base  string
	cache string
	svc   *Service
	fails *memFailures
	recs  *memRecords
}

func newEnv(t *testing.T) *env {
	t.Helper()
	base := t.TempDir()
	cache := t.TempDir()
	keys, err := keystore.Generate(nil)
	require.NoError(t, err)

	fails := &memFailures{}
	recs := &memRecords{}
	ids := 0
	svc := &Service{
		Resolver:  dataset.New(base),
		Snapshots: snapshot.New(cache),
		Scanner:   compliance.NewScanner(),
		Addresser: contenthash.Addresser{},
		Signer:    keys,
		Repo:      recs,
		Failures:  fails,
		Log:       logger.Discard(),
		Clock:     application.FixedClock{T: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		NewID: func() attestation.ExecutionID {
			ids++
			return attestation.ExecutionID("exec-" + strings.Repeat("x", ids))
		},
	}
	return &env{base: base, cache: cache, svc: svc, fails: fails, recs: recs}
}

func (e *env) write(t *testing.T, rel, body string) {
	t.Helper()
	p := filepath.Join(e.base, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
}

func request(blob string) attestation.DatasetRequest {
	return attestation.DatasetRequest{
		DatasetID:           "ds-1",
		DatasetMerkleRoot:   "0xroot",
		EncryptedDataBlobID: blob,
		PolicyVersion:       "policy-v1",
		ModelVersion:        "model-v1",
	}
}

func TestAnalyzeCleanDataset(t *testing.T) {
	e := newEnv(t)
	e.write(t, "clean/notes.txt", "nothing sensitive here\n")

	res, err := e.svc.Analyze(context.Background(), request("clean"))
	require.NoError(t, err)
	resp := res.Response

	assert.Equal(t, attestation.VerdictAllow, resp.Report.Verdict)
	assert.Equal(t, 100, resp.Report.Score)
	assert.NotNil(t, resp.Report.Findings)
	assert.Empty(t, resp.Report.Findings)

	assert.Equal(t, "clean", resp.Report.EncryptedDataBlobID)
	assert.True(t, strings.HasPrefix(resp.Payload.EncryptedDataBlobID, contenthash.Scheme+"0x"))
	assert.Equal(t, res.ContentHandle, resp.Payload.EncryptedDataBlobID)

	assert.Equal(t, attestation.EnclaveMeasurement, resp.Attestation.TeeMeasurement)
	assert.Equal(t, attestation.Provider, resp.Attestation.Provider)
	assert.Len(t, resp.Payload.TeeNonce, 2+NonceSize*2)
	assert.Equal(t, resp.Payload.TeeNonce, resp.Attestation.TeeNonce)

	want, err := canonical.Hash(resp.Report)
	require.NoError(t, err)
	assert.Equal(t, want, resp.Payload.ReportHash)
	assert.True(t, keystore.Verify(resp.Payload, resp.Signature, resp.Attestation.EnclavePubKey))
	assert.True(t, Verify(resp).Valid)

	require.Len(t, e.recs.saved, 1)
	assert.Equal(t, res.ExecutionID, e.recs.saved[0].ExecutionID)
	assert.Equal(t, 2026, e.recs.saved[0].CreatedAt.Year())
	assert.Equal(t, "clean", e.recs.saved[0].BlobID)
	assert.Empty(t, e.fails.saved)
}

func TestAnalyzeLeakyDatasetBlocks(t *testing.T) {
	e := newEnv(t)
	e.write(t, "leaky/a.txt", "contact alice@example.com")
	e.write(t, "leaky/b.txt", "Call +1 555 123 4567 now.\nOffice: 020-7946-0958\n")

	res, err := e.svc.Analyze(context.Background(), request("leaky"))
	require.NoError(t, err)
	report := res.Response.Report

	assert.Equal(t, attestation.VerdictBlock, report.Verdict)
	assert.Equal(t, 20, report.Score)
	require.Len(t, report.Findings, 3)
	assert.Equal(t, attestation.ComplianceFinding{Type: attestation.FindingEmail, Path: "a.txt", Detail: "alice@example.com"}, report.Findings[0])
	assert.Equal(t, attestation.FindingPhone, report.Findings[1].Type)
	assert.Equal(t, "b.txt", report.Findings[1].Path)
	assert.Equal(t, 3, e.recs.saved[0].FindingsCount)
}

func TestAnalyzeFreshNoncePerCall(t *testing.T) {
	e := newEnv(t)
	e.write(t, "clean/notes.txt", "hi")

	a, err := e.svc.Analyze(context.Background(), request("clean"))
	require.NoError(t, err)
	b, err := e.svc.Analyze(context.Background(), request("clean"))
	require.NoError(t, err)

	assert.NotEqual(t, a.ExecutionID, b.ExecutionID)
	assert.NotEqual(t, a.Response.Payload.TeeNonce, b.Response.Payload.TeeNonce)
	assert.NotEqual(t, a.ContentHandle, b.ContentHandle)
	assert.Equal(t, a.Response.Payload.ReportHash, b.Response.Payload.ReportHash)
}

func TestAnalyzeDeterministicNonceSource(t *testing.T) {
	e := newEnv(t)
	e.write(t, "clean/notes.txt", "hi")
	e.svc.Nonce = bytes.NewReader(bytes.Repeat([]byte{0xab}, NonceSize))

	res, err := e.svc.Analyze(context.Background(), request("clean"))
	require.NoError(t, err)
	assert.Equal(t, "0x"+strings.Repeat("ab", NonceSize), res.Response.Payload.TeeNonce)
}

func TestAnalyzeSnapshotIsIsolated(t *testing.T) {
	e := newEnv(t)
	e.write(t, "ds/a.txt", "clean")

	res, err := e.svc.Analyze(context.Background(), request("ds"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(e.cache, string(res.ExecutionID)), res.SnapshotPath)

	// mutating the source afterwards does not touch the snapshot
	e.write(t, "ds/a.txt", "bob@example.com")
	got, err := os.ReadFile(filepath.Join(res.SnapshotPath, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "clean", string(got))
}

func TestAnalyzeMissingDataset(t *testing.T) {
	e := newEnv(t)

	res, err := e.svc.Analyze(context.Background(), request("nope"))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, attestation.ErrNotFound))
	assert.Empty(t, e.recs.saved)
	require.Len(t, e.fails.saved, 1)
	assert.Equal(t, StageResolve, e.fails.saved[0].Stage)
	assert.Equal(t, string(attestation.KindNotFound), e.fails.saved[0].Kind)

	entries, _ := os.ReadDir(e.cache)
	assert.Empty(t, entries)
}

func TestAnalyzeEmptyBlobRejected(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Analyze(context.Background(), request("  "))
	assert.True(t, errors.Is(err, attestation.ErrInvalidRequest))
}

func TestAnalyzeWeaponDetection(t *testing.T) {
	e := newEnv(t)
	e.write(t, "imgs/b.png", "png")
	e.write(t, "imgs/a.JPG", "jpg")
	e.write(t, "imgs/notes.txt", "hello")
	det := &fakeDetector{dets: []domai.Detection{
		{ClassName: "gun", Confidence: 0.91},
		{ClassName: "gun", Confidence: 0.5},
	}}
	e.svc.Detector = det
	e.svc.Options = Options{MaxImages: 1, WeaponThreshold: 0.5}

	res, err := e.svc.Analyze(context.Background(), request("imgs"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.JPG"}, det.calls)
	require.Len(t, res.Response.Report.Findings, 1)
	f := res.Response.Report.Findings[0]
	assert.Equal(t, attestation.FindingWeapon, f.Type)
	assert.Equal(t, "a.JPG", f.Path)
	assert.Equal(t, "gun confidence=0.91", f.Detail)
	assert.Equal(t, attestation.VerdictWarn, res.Response.Report.Verdict)
}

func TestAnalyzeWeaponDetectorFailureAborts(t *testing.T) {
	e := newEnv(t)
	e.write(t, "imgs/a.png", "png")
	e.svc.Detector = &fakeDetector{err: errors.New("docker: not found")}
	e.svc.Options = Options{MaxImages: 1}

	res, err := e.svc.Analyze(context.Background(), request("imgs"))
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, attestation.ErrExternalService))
	assert.Empty(t, e.recs.saved)
	require.Len(t, e.fails.saved, 1)
	assert.Equal(t, StageWeapon, e.fails.saved[0].Stage)
}

func TestAnalyzeNarrativeAttestationMode(t *testing.T) {
	e := newEnv(t)
	e.write(t, "ds/a.txt", "x")
	e.svc.Narratives = appai.NewService(failingGenerator{}, "openai")

	res, err := e.svc.Analyze(context.Background(), request("ds"))
	require.NoError(t, err)
	assert.Nil(t, res.Narrative)
	require.Len(t, e.fails.saved, 1)
	assert.Equal(t, StageNarrative, e.fails.saved[0].Stage)
	assert.Len(t, e.recs.saved, 1)
}

func TestAnalyzeNarrativeModeFailureIsFatal(t *testing.T) {
	e := newEnv(t)
	e.write(t, "ds/a.txt", "x")
	e.svc.Narratives = appai.NewService(failingGenerator{}, "openai")
	e.svc.Options.NarrativeMode = true

	res, err := e.svc.Analyze(context.Background(), request("ds"))
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, attestation.ErrExternalService))
	assert.Empty(t, e.recs.saved)
}

func TestAnalyzeNarrativePinsExecution(t *testing.T) {
	e := newEnv(t)
	e.write(t, "ds/a.txt", "x")
	e.svc.Narratives = appai.NewService(prompt.NewLocalGenerator(), "local")

	res, err := e.svc.Analyze(context.Background(), request("ds"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(res.Narrative, &doc))
	assert.Equal(t, string(res.ExecutionID), doc["execution_id"])
}

func TestAnalyzeArchiveFailureIsNotFatal(t *testing.T) {
	e := newEnv(t)
	e.write(t, "ds/a.txt", "x")
	e.svc.Artifacts = fakeArchive{err: errors.New("minio down")}

	res, err := e.svc.Analyze(context.Background(), request("ds"))
	require.NoError(t, err)
	assert.Empty(t, res.ArchiveURL)
	require.Len(t, e.fails.saved, 1)
	assert.Equal(t, StageArchive, e.fails.saved[0].Stage)
}

func TestAnalyzeArchiveURLPersisted(t *testing.T) {
	e := newEnv(t)
	e.write(t, "ds/a.txt", "x")
	e.svc.Artifacts = fakeArchive{}

	res, err := e.svc.Analyze(context.Background(), request("ds"))
	require.NoError(t, err)
	assert.Contains(t, res.ArchiveURL, string(res.ExecutionID))
	assert.Equal(t, res.ArchiveURL, e.recs.saved[0].ArchiveURL)
}

func TestVerifyDetectsTampering(t *testing.T) {
	e := newEnv(t)
	e.write(t, "ds/a.txt", "x")
	res, err := e.svc.Analyze(context.Background(), request("ds"))
	require.NoError(t, err)

	tampered := *res.Response
	tampered.Report.Score = 0
	v := Verify(&tampered)
	assert.False(t, v.Valid)
	assert.True(t, v.SignatureOK)
	assert.False(t, v.ReportHashOK)

	tampered = *res.Response
	tampered.Attestation.TeeNonce = "0x00"
	v = Verify(&tampered)
	assert.False(t, v.NonceMatch)

	tampered = *res.Response
	tampered.Payload.PolicyVersion = "policy-v2"
	assert.False(t, Verify(&tampered).SignatureOK)

	assert.False(t, Verify(nil).Valid)
}
