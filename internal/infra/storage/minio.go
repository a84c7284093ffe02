package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bryanwahyu/automaton-tee/internal/domain/attestation"
)

// objectPutter is the subset of *minio.Client the store writes through.
type objectPutter interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Store struct {
	client     objectPutter
	bucketName string
	baseURL    string
}

// New buat koneksi MinIO
func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL bool) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	// pastikan bucket ada
	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, err
		}
	}

	return &Store{client: cli, bucketName: bucket, baseURL: cli.EndpointURL().String()}, nil
}

// Ping checks the bucket is reachable, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	cli, ok := s.client.(*minio.Client)
	if !ok {
		return nil
	}
	_, err := cli.BucketExists(ctx, s.bucketName)
	return err
}

// Upload streams r under key. size -1 means unknown (multipart).
func (s *Store) Upload(ctx context.Context, r io.Reader, size int64, key, contentType string) (string, error) {
	if _, err := s.client.PutObject(ctx, s.bucketName, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	// URL publik (jika bucket public), kalau private harus generate presigned URL
	return fmt.Sprintf("%s/%s/%s", s.baseURL, s.bucketName, key), nil
}

// Archive implements attestation.ArtifactStore. It writes
// <datasetId>/<executionId>/attestation.json and .../snapshot.tar.zst and
// returns the URL of the envelope object.
func (s *Store) Archive(ctx context.Context, resp *attestation.AnalyzeDatasetResponse, id attestation.ExecutionID, snapshotPath string) (string, error) {
	prefix := fmt.Sprintf("%s/%s", ObjectSegment(resp.Report.DatasetID), id)

	body, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	url, err := s.Upload(ctx, bytes.NewReader(body), int64(len(body)), prefix+"/attestation.json", "application/json")
	if err != nil {
		return "", attestation.ExternalServiceError("archive envelope", err)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(WriteTarZst(pw, snapshotPath))
	}()
	if _, err := s.Upload(ctx, pr, -1, prefix+"/snapshot.tar.zst", "application/zstd"); err != nil {
		pr.CloseWithError(err)
		return "", attestation.ExternalServiceError("archive snapshot", err)
	}
	return url, nil
}
