// Package s3storage keeps uploaded policy files and their converted markdown
// in MinIO/S3.
package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/PolicyPro/internal/config"
)

// Storage wraps MinIO/S3 interactions for raw uploads and processed markdown.
type Storage struct {
	client          *minio.Client
	rawBucket       string
	processedBucket string
	region          string
	signedTTL       time.Duration
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:          client,
		rawBucket:       cfg.RawBucket,
		processedBucket: cfg.ProcessedBucket,
		region:          cfg.S3Region,
		signedTTL:       cfg.SignedURLTTL,
	}, nil
}

// EnsureBuckets makes sure the raw/processed buckets exist before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.rawBucket, s.processedBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// RawObjectKey is where an upload's original file lives.
func RawObjectKey(accountID, uploadID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	return fmt.Sprintf("uploads/%s/%s%s", accountID, uploadID, ext)
}

// ProcessedObjectKey is where a document's converted markdown lives.
func ProcessedObjectKey(documentID string) string {
	return fmt.Sprintf("processed/%s.md", documentID)
}

// UploadRaw uploads the original file into the raw bucket.
func (s *Storage) UploadRaw(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	_, err := s.client.PutObject(ctx, s.rawBucket, objectKey, reader, size, opts)
	if err != nil {
		return fmt.Errorf("upload raw object: %w", err)
	}
	return nil
}

// UploadProcessed stores converted markdown in the processed bucket.
func (s *Storage) UploadProcessed(ctx context.Context, objectKey string, data []byte) error {
	reader := bytes.NewReader(data)
	opts := minio.PutObjectOptions{ContentType: "text/markdown; charset=utf-8"}
	_, err := s.client.PutObject(ctx, s.processedBucket, objectKey, reader, int64(len(data)), opts)
	if err != nil {
		return fmt.Errorf("upload processed object: %w", err)
	}
	return nil
}

// DownloadRaw fetches the original file bytes from storage.
func (s *Storage) DownloadRaw(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.rawBucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get raw object: %w", err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read raw object: %w", err)
	}
	return buf, nil
}

// PresignProcessedURL returns a signed GET URL for a document's markdown.
func (s *Storage) PresignProcessedURL(ctx context.Context, documentID string) (string, error) {
	ttl := s.signedTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	u, err := s.client.PresignedGetObject(ctx, s.processedBucket, ProcessedObjectKey(documentID), ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign processed object: %w", err)
	}
	return u.String(), nil
}
