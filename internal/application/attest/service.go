package attest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/automaton-tee/internal/application"
	appai "github.com/bryanwahyu/automaton-tee/internal/application/ai"
	domai "github.com/bryanwahyu/automaton-tee/internal/domain/ai"
	domain "github.com/bryanwahyu/automaton-tee/internal/domain/attestation"
	"github.com/bryanwahyu/automaton-tee/internal/domain/failures"
	"github.com/bryanwahyu/automaton-tee/internal/infra/crypto/canonical"
	"github.com/bryanwahyu/automaton-tee/internal/infra/fswalk"
)

// NonceSize in bytes.
const NonceSize = 32

// Stages, as recorded on failures and metrics.
const (
	StageValidate  = "validate"
	StageResolve   = "resolve"
	StageSnapshot  = "snapshot"
	StageScan      = "scan"
	StageWeapon    = "weapon"
	StageAddress   = "address"
	StageSign      = "sign"
	StageNarrative = "narrative"
	StageArchive   = "archive"
	StagePersist   = "persist"
)

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Metrics receives pipeline outcomes.
type Metrics interface {
	ObserveAttestation(verdict string, d time.Duration)
	ObserveFailure(stage, kind string)
}

// Options tune the optional parts of the pipeline.
type Options struct {
	MaxImages       int     // images handed to the weapon detector, sorted order
	WeaponThreshold float64 // detections strictly above it become findings
	NarrativeMode   bool    // narrative failures abort the request
}

// Service assembles signed attestations. Resolver, Snapshots, Scanner,
// Addresser and Signer are required; everything else is optional.
type Service struct {
	Resolver  domain.Resolver
	Snapshots domain.SnapshotCache
	Scanner   domain.Scanner
	Addresser domain.ContentAddresser
	Signer    domain.Signer

	Detector   domai.WeaponDetector
	Narratives *appai.Service
	Repo       domain.Repository
	Failures   failures.Repository
	Artifacts  domain.ArtifactStore
	Metrics    Metrics

	Log     *logrus.Logger
	Clock   application.Clock
	Nonce   io.Reader
	NewID   func() domain.ExecutionID
	Options Options
}

// Result is the assembled envelope plus what the pipeline produced on the way.
type Result struct {
	Response      *domain.AnalyzeDatasetResponse
	ExecutionID   domain.ExecutionID
	SnapshotPath  string
	ContentHandle string
	Narrative     json.RawMessage
	ArchiveURL    string
}

// Analyze runs resolve, snapshot, scan, verdict, address, hash, sign and
// assemble. Any failure before the envelope exists aborts the request.
func (s *Service) Analyze(ctx context.Context, req domain.DatasetRequest) (*Result, error) {
	start := s.now()
	log := s.logger().WithField("dataset_id", req.DatasetID)

	if strings.TrimSpace(req.EncryptedDataBlobID) == "" {
		return nil, s.fail(ctx, log, StageValidate, "", req, domain.InvalidRequest("encryptedDataBlobId is required"))
	}

	// 1. resolve
	source := s.Resolver.Resolve(req.EncryptedDataBlobID)
	if !s.Resolver.Exists(source) {
		return nil, s.fail(ctx, log, StageResolve, "", req, domain.NotFound(source))
	}

	// 2. snapshot under a fresh execution id
	execID := s.newID()
	log = log.WithField("execution_id", execID)
	snap, err := s.Snapshots.Snapshot(source, execID)
	if err != nil {
		return nil, s.fail(ctx, log, StageSnapshot, execID, req, err)
	}
	log.WithField("snapshot", snap).Debug("snapshot created")

	// 3. scan + weapon detection
	findings, err := s.Scanner.Scan(ctx, snap)
	if err != nil {
		return nil, s.fail(ctx, log, StageScan, execID, req, err)
	}
	weapons, err := s.detectWeapons(ctx, snap)
	if err != nil {
		return nil, s.fail(ctx, log, StageWeapon, execID, req, err)
	}
	findings = append(findings, weapons...)

	// 4. verdict + content handle
	verdict, score := domain.Score(findings)
	handle, err := s.Addresser.Derive(snap, execID)
	if err != nil {
		return nil, s.fail(ctx, log, StageAddress, execID, req, err)
	}

	// 5. report, hash, payload, signature
	resp, err := s.assemble(req, findings, verdict, score, handle)
	if err != nil {
		return nil, s.fail(ctx, log, StageSign, execID, req, err)
	}

	res := &Result{Response: resp, ExecutionID: execID, SnapshotPath: snap, ContentHandle: handle}
	log.WithFields(logrus.Fields{"verdict": verdict, "score": score, "findings": len(findings)}).Info("attestation assembled")

	// side effects; only the narrative in narrative mode may still fail the request
	if err := s.narrate(ctx, log, req, res, len(weapons) > 0); err != nil {
		return nil, err
	}
	s.archive(ctx, log, req, res)
	s.persist(ctx, log, req, res, start)

	if s.Metrics != nil {
		s.Metrics.ObserveAttestation(string(verdict), s.now().Sub(start))
	}
	return res, nil
}

func (s *Service) assemble(req domain.DatasetRequest, findings []domain.ComplianceFinding, verdict domain.Verdict, score int, handle string) (*domain.AnalyzeDatasetResponse, error) {
	if findings == nil {
		findings = []domain.ComplianceFinding{}
	}
	report := domain.ComplianceReport{
		DatasetID:           req.DatasetID,
		DatasetMerkleRoot:   req.DatasetMerkleRoot,
		EncryptedDataBlobID: req.EncryptedDataBlobID,
		PolicyVersion:       req.PolicyVersion,
		ModelVersion:        req.ModelVersion,
		Verdict:             verdict,
		Score:               score,
		Findings:            findings,
	}
	reportHash, err := canonical.Hash(report)
	if err != nil {
		return nil, domain.SerializationError("hash report", err)
	}

	nonce, err := s.nonce()
	if err != nil {
		return nil, domain.IOError("generate nonce", "", err)
	}
	payload := domain.TeePayload{
		DatasetMerkleRoot:   req.DatasetMerkleRoot,
		EncryptedDataBlobID: handle,
		PolicyVersion:       req.PolicyVersion,
		ReportHash:          reportHash,
		ModelVersion:        req.ModelVersion,
		TeeNonce:            nonce,
	}
	sig, err := s.Signer.Sign(payload)
	if err != nil {
		return nil, domain.SerializationError("sign payload", err)
	}

	return &domain.AnalyzeDatasetResponse{
		Attestation: domain.Attestation{
			TeeMeasurement: domain.EnclaveMeasurement,
			TeeNonce:       nonce,
			EnclavePubKey:  s.Signer.PublicKeyHex(),
			Provider:       domain.Provider,
		},
		Payload:   payload,
		Signature: sig,
		Report:    report,
	}, nil
}

// detectWeapons samples up to MaxImages images in sorted path order.
func (s *Service) detectWeapons(ctx context.Context, snap string) ([]domain.ComplianceFinding, error) {
	if s.Detector == nil || s.Options.MaxImages <= 0 {
		return nil, nil
	}
	threshold := s.Options.WeaponThreshold
	if threshold <= 0 {
		threshold = 0.5
	}

	var out []domain.ComplianceFinding
	sampled := 0
	for e, err := range fswalk.Files(snap) {
		if err != nil {
			return nil, domain.IOError("walk snapshot", snap, err)
		}
		if !imageExtensions[strings.ToLower(filepath.Ext(e.Rel))] {
			continue
		}
		if sampled == s.Options.MaxImages {
			break
		}
		sampled++
		dets, err := s.Detector.Detect(ctx, e.Path)
		if err != nil {
			return nil, domain.NewError(domain.KindExternalService, "weapon detection", e.Rel, err)
		}
		for _, d := range dets {
			if d.Confidence > threshold {
				out = append(out, domain.ComplianceFinding{
					Type:   domain.FindingWeapon,
					Path:   e.Rel,
					Detail: fmt.Sprintf("%s confidence=%.2f", className(d), d.Confidence),
				})
			}
		}
	}
	return out, nil
}

func className(d domai.Detection) string {
	if d.ClassName == "" {
		return "weapon"
	}
	return d.ClassName
}

func (s *Service) narrate(ctx context.Context, log *logrus.Entry, req domain.DatasetRequest, res *Result, weaponFlag bool) error {
	if s.Narratives == nil {
		return nil
	}
	cmd := appai.NarrateCommand{
		DatasetID:     req.DatasetID,
		ExecutionID:   string(res.ExecutionID),
		SnapshotPath:  res.SnapshotPath,
		ContentHandle: res.ContentHandle,
		Verdict:       string(res.Response.Report.Verdict),
		Score:         res.Response.Report.Score,
		WeaponFlag:    weaponFlag,
	}
	doc, err := s.Narratives.Narrate(ctx, cmd)
	if err != nil {
		err = s.fail(ctx, log, StageNarrative, res.ExecutionID, req, err)
		if s.Options.NarrativeMode {
			return err
		}
		return nil
	}
	res.Narrative = doc
	if err := s.Narratives.Store(ctx, cmd, doc); err != nil {
		s.fail(ctx, log, StagePersist, res.ExecutionID, req, err)
	}
	return nil
}

func (s *Service) archive(ctx context.Context, log *logrus.Entry, req domain.DatasetRequest, res *Result) {
	if s.Artifacts == nil {
		return
	}
	url, err := s.Artifacts.Archive(ctx, res.Response, res.ExecutionID, res.SnapshotPath)
	if err != nil {
		s.fail(ctx, log, StageArchive, res.ExecutionID, req, err)
		return
	}
	res.ArchiveURL = url
}

func (s *Service) persist(ctx context.Context, log *logrus.Entry, req domain.DatasetRequest, res *Result, start time.Time) {
	if s.Repo == nil {
		return
	}
	body, err := json.Marshal(res.Response)
	if err != nil {
		s.fail(ctx, log, StagePersist, res.ExecutionID, req, err)
		return
	}
	resp := res.Response
	rec := &domain.Record{
		ExecutionID:       res.ExecutionID,
		DatasetID:         req.DatasetID,
		DatasetMerkleRoot: req.DatasetMerkleRoot,
		BlobID:            req.EncryptedDataBlobID,
		ContentHandle:     res.ContentHandle,
		PolicyVersion:     req.PolicyVersion,
		ModelVersion:      req.ModelVersion,
		Verdict:           resp.Report.Verdict,
		Score:             resp.Report.Score,
		FindingsCount:     len(resp.Report.Findings),
		ReportHash:        resp.Payload.ReportHash,
		TeeNonce:          resp.Payload.TeeNonce,
		Signature:         resp.Signature,
		EnclavePubKey:     resp.Attestation.EnclavePubKey,
		SnapshotPath:      res.SnapshotPath,
		ArchiveURL:        res.ArchiveURL,
		ResponseJSON:      string(body),
		DurationMS:        s.now().Sub(start).Milliseconds(),
		CreatedAt:         start,
	}
	if err := s.Repo.Save(ctx, rec); err != nil {
		s.fail(ctx, log, StagePersist, res.ExecutionID, req, err)
	}
}

// fail logs, records and counts a stage failure, then returns err unchanged.
func (s *Service) fail(ctx context.Context, log *logrus.Entry, stage string, execID domain.ExecutionID, req domain.DatasetRequest, err error) error {
	kind := domain.KindOf(err)
	log.WithFields(logrus.Fields{"stage": stage, "kind": kind}).WithError(err).Warn("pipeline stage failed")
	if s.Metrics != nil {
		s.Metrics.ObserveFailure(stage, string(kind))
	}
	if s.Failures != nil {
		details, _ := json.Marshal(map[string]string{"blobId": req.EncryptedDataBlobID, "error": err.Error()})
		f := &failures.Failure{
			ExecutionID: string(execID),
			DatasetID:   req.DatasetID,
			Stage:       stage,
			Kind:        string(kind),
			Message:     err.Error(),
			DetailsJSON: string(details),
			CreatedAt:   s.now(),
		}
		// context asli bisa sudah cancel, pakai background supaya tetap tercatat
		if serr := s.Failures.Save(context.WithoutCancel(ctx), f); serr != nil {
			log.WithError(serr).Error("failed to record pipeline failure")
		}
	}
	return err
}

func (s *Service) nonce() (string, error) {
	r := s.Nonce
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, NonceSize)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(b), nil
}

func (s *Service) newID() domain.ExecutionID {
	if s.NewID != nil {
		return s.NewID()
	}
	return domain.ExecutionID(uuid.NewString())
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

func (s *Service) logger() *logrus.Logger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}
