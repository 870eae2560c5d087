package scan

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dharsanguruparan/PolicyPro/internal/logging"
	"github.com/dharsanguruparan/PolicyPro/internal/model"
	"github.com/dharsanguruparan/PolicyPro/internal/notify"
	"github.com/dharsanguruparan/PolicyPro/internal/storage"
)

type recordingSink struct {
	mu    sync.Mutex
	items []notify.Notification
}

func (r *recordingSink) Push(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	return nil
}

func (r *recordingSink) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.items {
		if n.Target == notify.TargetScanStatus {
			out = append(out, n.HTML)
		}
	}
	return out
}

type stubScanner struct {
	name     string
	progress string
	scan     func(ctx context.Context, doc *model.PolicyDocument) ([]model.Issue, error)
}

func (s stubScanner) Name() string     { return s.name }
func (s stubScanner) Progress() string { return s.progress }
func (s stubScanner) Scan(ctx context.Context, doc *model.PolicyDocument) ([]model.Issue, error) {
	return s.scan(ctx, doc)
}

type fakeIndex struct {
	indexed []model.Issue
	removed []string
}

func (f *fakeIndex) IndexIssues(_ context.Context, issues []model.Issue) error {
	f.indexed = append(f.indexed, issues...)
	return nil
}

func (f *fakeIndex) RemoveIssues(_ context.Context, ids []string) error {
	f.removed = append(f.removed, ids...)
	return nil
}

func seedDocument(t *testing.T, s *storage.MemoryStore, account, name, content string) *model.PolicyDocument {
	t.Helper()
	doc := &model.PolicyDocument{AccountID: account, Name: name, Content: &content}
	if err := s.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc
}

func seedIssue(t *testing.T, s *storage.MemoryStore, docID string) *model.Issue {
	t.Helper()
	issue := &model.Issue{PolicyDocumentID: docID, Type: model.IssueSpelling, Description: "misspelling"}
	if err := s.CreateIssue(context.Background(), issue); err != nil {
		t.Fatalf("create issue: %v", err)
	}
	return issue
}

func createIssue(store *storage.MemoryStore, doc *model.PolicyDocument, description string) ([]model.Issue, error) {
	issue := model.Issue{PolicyDocumentID: doc.ID, Type: model.IssueSpelling, Description: description}
	if err := store.CreateIssue(context.Background(), &issue); err != nil {
		return nil, err
	}
	return []model.Issue{issue}, nil
}

func TestScanPurgesOpenIssuesBeforeScanners(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	doc := seedDocument(t, store, "acct", "Safeguarding", "Body")
	old1 := seedIssue(t, store, doc.ID)
	old2 := seedIssue(t, store, doc.ID)

	seen := -1
	scanner := stubScanner{name: "empty", progress: "Checking...", scan: func(ctx context.Context, d *model.PolicyDocument) ([]model.Issue, error) {
		open, err := store.ListOpenIssues(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		seen = len(open)
		return nil, nil
	}}
	index := &fakeIndex{}
	o := NewOrchestrator(store, []Scanner{scanner}, Options{Index: index, Logger: logging.Nop()})

	report, err := o.Scan(ctx, doc.ID)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if seen != 0 {
		t.Fatalf("scanner saw %d open issues, want 0", seen)
	}
	if report.Status != model.ScanCompleted {
		t.Fatalf("unexpected status %s", report.Status)
	}
	open, _ := store.ListOpenIssues(ctx, doc.ID)
	if len(open) != 0 {
		t.Fatalf("expected no open issues, got %d", len(open))
	}
	got, _ := store.GetDocument(ctx, doc.ID)
	if got.ScanStatus != model.ScanCompleted || got.LastScannedAt == nil || got.ScanError != nil {
		t.Fatalf("unexpected document state %+v", got)
	}
	removed := strings.Join(index.removed, ",")
	if !strings.Contains(removed, old1.ID) || !strings.Contains(removed, old2.ID) {
		t.Fatalf("purged issues not removed from index: %v", index.removed)
	}
}

func TestScanRejectedWhileInFlight(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	doc := seedDocument(t, store, "acct", "Safeguarding", "Body")
	o := NewOrchestrator(store, nil, Options{Logger: logging.Nop()})

	if err := o.Begin(ctx, doc.ID); err != nil {
		t.Fatalf("begin: %v", err)
	}
	seedIssue(t, store, doc.ID)

	if _, err := o.Scan(ctx, doc.ID); !errors.Is(err, model.ErrScanInProgress) {
		t.Fatalf("expected ErrScanInProgress, got %v", err)
	}
	open, _ := store.ListOpenIssues(ctx, doc.ID)
	if len(open) != 1 {
		t.Fatalf("in-flight rejection must not purge issues, got %d open", len(open))
	}
}

func TestScannerFailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	doc := seedDocument(t, store, "acct", "Safeguarding", "Body")
	sink := &recordingSink{}

	var ran []string
	scanners := []Scanner{
		stubScanner{name: "broken", progress: "Checking spelling...", scan: func(context.Context, *model.PolicyDocument) ([]model.Issue, error) {
			ran = append(ran, "broken")
			return nil, errors.New("boom")
		}},
		stubScanner{name: "panicky", progress: "Checking CQC compliance...", scan: func(context.Context, *model.PolicyDocument) ([]model.Issue, error) {
			ran = append(ran, "panicky")
			panic("nil map")
		}},
		stubScanner{name: "healthy", progress: "Checking for conflicts...", scan: func(_ context.Context, d *model.PolicyDocument) ([]model.Issue, error) {
			ran = append(ran, "healthy")
			return createIssue(store, d, "found one")
		}},
	}
	o := NewOrchestrator(store, scanners, Options{Sink: sink, Logger: logging.Nop()})

	report, err := o.Scan(ctx, doc.ID)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if strings.Join(ran, ",") != "broken,panicky,healthy" {
		t.Fatalf("unexpected run order %v", ran)
	}
	if report.Status != model.ScanFailed || len(report.Errors) != 2 || report.Issues != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	got, _ := store.GetDocument(ctx, doc.ID)
	if got.ScanStatus != model.ScanFailed || got.ScanError == nil {
		t.Fatalf("unexpected document state %+v", got)
	}
	if *got.ScanError != "broken: boom; panicky: panic: nil map" {
		t.Fatalf("unexpected scan error %q", *got.ScanError)
	}
	open, _ := store.ListOpenIssues(ctx, doc.ID)
	if len(open) != 1 || open[0].Description != "found one" {
		t.Fatalf("healthy scanner findings lost: %+v", open)
	}

	statuses := sink.statuses()
	want := []string{"Checking spelling...", "Checking CQC compliance...", "Checking for conflicts...", "Scan completed with errors"}
	if len(statuses) != len(want) {
		t.Fatalf("expected %d status notifications, got %d", len(want), len(statuses))
	}
	for i, w := range want {
		if !strings.Contains(statuses[i], w) {
			t.Fatalf("status %d: %q does not mention %q", i, statuses[i], w)
		}
	}
	last := sink.items[len(sink.items)-1]
	if last.Target != notify.TargetIssuesList || !strings.Contains(last.HTML, "found one") {
		t.Fatalf("final issue list not pushed: %+v", last)
	}
}

func TestRunFailsWhenDocumentDisappears(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	doc := seedDocument(t, store, "acct", "Safeguarding", "Body")
	sink := &recordingSink{}
	o := NewOrchestrator(store, nil, Options{Sink: sink, Logger: logging.Nop()})

	if err := o.Begin(ctx, doc.ID); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := store.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := o.Run(ctx, doc.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	statuses := sink.statuses()
	if len(statuses) == 0 || !strings.Contains(statuses[len(statuses)-1], "Scan failed: load document") {
		t.Fatalf("expected failure notification, got %v", statuses)
	}
}

func TestRunSkipsDocumentThatIsNotScanning(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	doc := seedDocument(t, store, "acct", "Safeguarding", "Body")
	called := false
	o := NewOrchestrator(store, []Scanner{stubScanner{name: "s", scan: func(context.Context, *model.PolicyDocument) ([]model.Issue, error) {
		called = true
		return nil, nil
	}}}, Options{Logger: logging.Nop()})

	report, err := o.Run(ctx, doc.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if called || report.Status != model.ScanIdle {
		t.Fatalf("duplicate delivery should be ignored, called=%v status=%s", called, report.Status)
	}
}

func TestScanRecordsCompletionTime(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	doc := seedDocument(t, store, "acct", "Safeguarding", "Body")
	at := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	o := NewOrchestrator(store, nil, Options{Logger: logging.Nop(), Now: func() time.Time { return at }})

	if _, err := o.Scan(ctx, doc.ID); err != nil {
		t.Fatalf("scan: %v", err)
	}
	got, _ := store.GetDocument(ctx, doc.ID)
	if got.LastScannedAt == nil || !got.LastScannedAt.Equal(at) {
		t.Fatalf("unexpected completion time %v", got.LastScannedAt)
	}
}
