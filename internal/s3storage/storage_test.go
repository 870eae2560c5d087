package s3storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dharsanguruparan/PolicyPro/internal/config"
)

func TestObjectKeys(t *testing.T) {
	if got := RawObjectKey("acct", "up-1", "Safeguarding Policy.DOCX"); got != "uploads/acct/up-1.docx" {
		t.Fatalf("unexpected raw key %s", got)
	}
	if got := ProcessedObjectKey("doc-1"); got != "processed/doc-1.md" {
		t.Fatalf("unexpected processed key %s", got)
	}
}

func TestPresignIsLocal(t *testing.T) {
	s, err := New(&config.Config{
		S3Endpoint:      "localhost:9000",
		S3AccessKey:     "minio",
		S3SecretKey:     "minio123",
		S3Region:        "us-east-1",
		RawBucket:       "raw",
		ProcessedBucket: "processed",
		SignedURLTTL:    time.Minute,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	u, err := s.PresignProcessedURL(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.Contains(u, "/processed/processed/doc-1.md") || !strings.Contains(u, "X-Amz-Expires=60") {
		t.Fatalf("unexpected url %s", u)
	}
}
