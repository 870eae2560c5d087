package worker

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/PolicyPro/internal/logging"
	"github.com/dharsanguruparan/PolicyPro/internal/model"
	"github.com/dharsanguruparan/PolicyPro/internal/notify"
	"github.com/dharsanguruparan/PolicyPro/internal/parser"
	"github.com/dharsanguruparan/PolicyPro/internal/queue"
	"github.com/dharsanguruparan/PolicyPro/internal/scan"
	"github.com/dharsanguruparan/PolicyPro/internal/storage"
)

type fakeFiles struct {
	raw         map[string][]byte
	processed   map[string][]byte
	downloadErr error
}

func (f *fakeFiles) DownloadRaw(_ context.Context, key string) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	data, ok := f.raw[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return data, nil
}

func (f *fakeFiles) UploadProcessed(_ context.Context, key string, data []byte) error {
	f.processed[key] = data
	return nil
}

type parserFunc func(ctx context.Context, att parser.Attachment) (model.Ingested, bool)

func (f parserFunc) Parse(ctx context.Context, att parser.Attachment) (model.Ingested, bool) {
	return f(ctx, att)
}

type captureSink struct{ items []notify.Notification }

func (c *captureSink) Push(_ context.Context, n notify.Notification) error {
	c.items = append(c.items, n)
	return nil
}

type runnerFunc func(ctx context.Context, id string) (*scan.Report, error)

func (f runnerFunc) Run(ctx context.Context, id string) (*scan.Report, error) { return f(ctx, id) }

func seedUpload(t *testing.T, store *storage.MemoryStore, files *fakeFiles) *model.PolicyUpload {
	t.Helper()
	upload := &model.PolicyUpload{AccountID: "acct", Name: "Safeguarding", FileName: "safeguarding.docx", ContentType: parser.ContentTypeDocx, ObjectKey: "uploads/acct/u.docx"}
	if err := store.CreateUpload(context.Background(), upload); err != nil {
		t.Fatalf("create upload: %v", err)
	}
	files.raw[upload.ObjectKey] = []byte("docx bytes")
	return upload
}

func newFiles() *fakeFiles {
	return &fakeFiles{raw: map[string][]byte{}, processed: map[string][]byte{}}
}

func TestParseUploadCreatesDocument(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	files := newFiles()
	sink := &captureSink{}
	upload := seedUpload(t, store, files)

	var seenPath string
	p := parserFunc(func(_ context.Context, att parser.Attachment) (model.Ingested, bool) {
		seenPath = att.Path
		data, err := os.ReadFile(att.Path)
		if err != nil || string(data) != "docx bytes" {
			t.Fatalf("attachment not written to disk: %v", err)
		}
		if !strings.HasSuffix(att.Path, ".docx") || att.ContentType != parser.ContentTypeDocx {
			t.Fatalf("unexpected attachment %+v", att)
		}
		return model.Ingested{Content: "# Safeguarding"}, true
	})
	jobs := NewJobs(store, files, p, nil, sink, logging.Nop())

	if err := jobs.ParseUpload(ctx, upload.ID); err != nil {
		t.Fatalf("parse upload: %v", err)
	}
	got, _ := store.GetUpload(ctx, upload.ID)
	if got.Status != model.UploadCompleted || got.PolicyDocumentID == nil {
		t.Fatalf("unexpected upload state %+v", got)
	}
	doc, err := store.GetDocument(ctx, *got.PolicyDocumentID)
	if err != nil || doc.Text() != "# Safeguarding" || doc.Name != "Safeguarding" {
		t.Fatalf("unexpected document %+v %v", doc, err)
	}
	if string(files.processed["processed/"+doc.ID+".md"]) != "# Safeguarding" {
		t.Fatalf("processed markdown not stored")
	}
	if _, err := os.Stat(seenPath); !os.IsNotExist(err) {
		t.Fatalf("temp file not removed")
	}
	if len(sink.items) != 1 || !strings.Contains(sink.items[0].HTML, "All policies processed") {
		t.Fatalf("unexpected onboarding notifications %+v", sink.items)
	}

	// Redelivery overwrites the same document.
	jobs.parser = parserFunc(func(context.Context, parser.Attachment) (model.Ingested, bool) {
		return model.Ingested{Content: "# Safeguarding v2"}, true
	})
	if err := jobs.ParseUpload(ctx, upload.ID); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	docs, _ := store.ListDocuments(ctx, "acct")
	if len(docs) != 1 || docs[0].Text() != "# Safeguarding v2" {
		t.Fatalf("expected a single overwritten document, got %+v", docs)
	}
}

func TestParseUploadFailureCreatesNoDocument(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	files := newFiles()
	upload := seedUpload(t, store, files)
	p := parserFunc(func(context.Context, parser.Attachment) (model.Ingested, bool) {
		return model.Ingested{}, false
	})
	jobs := NewJobs(store, files, p, nil, nil, logging.Nop())

	if err := jobs.ParseUpload(ctx, upload.ID); err != nil {
		t.Fatalf("unreadable files are not job errors: %v", err)
	}
	got, _ := store.GetUpload(ctx, upload.ID)
	if got.Status != model.UploadFailed || got.ErrorMessage == nil || got.PolicyDocumentID != nil {
		t.Fatalf("unexpected upload state %+v", got)
	}
	docs, _ := store.ListDocuments(ctx, "acct")
	if len(docs) != 0 {
		t.Fatalf("no document may be created, got %d", len(docs))
	}
}

func TestParseUploadDownloadErrorIsRetried(t *testing.T) {
	store := storage.NewMemoryStore()
	files := newFiles()
	upload := seedUpload(t, store, files)
	files.downloadErr = errors.New("minio unavailable")
	jobs := NewJobs(store, files, parserFunc(func(context.Context, parser.Attachment) (model.Ingested, bool) {
		t.Fatalf("parser must not run")
		return model.Ingested{}, false
	}), nil, nil, logging.Nop())

	if err := jobs.ParseUpload(context.Background(), upload.ID); err == nil {
		t.Fatalf("expected error so the job is retried")
	}
}

func TestHandlersSkipRetryForMissingRecords(t *testing.T) {
	store := storage.NewMemoryStore()
	jobs := NewJobs(store, newFiles(), nil, runnerFunc(func(context.Context, string) (*scan.Report, error) {
		return nil, model.ErrNotFound
	}), nil, logging.Nop())
	mux := NewProcessor(jobs).Handler()

	task, _ := queue.NewParseTask("missing")
	if err := mux.ProcessTask(context.Background(), task); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for unknown upload, got %v", err)
	}
	task, _ = queue.NewScanTask("doc-1")
	if err := mux.ProcessTask(context.Background(), task); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for failed scan, got %v", err)
	}
	if err := mux.ProcessTask(context.Background(), asynq.NewTask(queue.ScanDocumentTask, []byte("{"))); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for bad payload, got %v", err)
	}
}

func TestScanDocumentRunsClaimedScan(t *testing.T) {
	var ran string
	jobs := NewJobs(storage.NewMemoryStore(), newFiles(), nil, runnerFunc(func(_ context.Context, id string) (*scan.Report, error) {
		ran = id
		return &scan.Report{DocumentID: id, Status: model.ScanCompleted}, nil
	}), nil, logging.Nop())
	if err := jobs.ScanDocument(context.Background(), "doc-1"); err != nil || ran != "doc-1" {
		t.Fatalf("scan job: ran=%q err=%v", ran, err)
	}
}
