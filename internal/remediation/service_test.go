package remediation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dharsanguruparan/PolicyPro/internal/logging"
	"github.com/dharsanguruparan/PolicyPro/internal/metrics"
	"github.com/dharsanguruparan/PolicyPro/internal/model"
	"github.com/dharsanguruparan/PolicyPro/internal/notify"
	"github.com/dharsanguruparan/PolicyPro/internal/storage"
)

type captureSink struct{ items []notify.Notification }

func (c *captureSink) Push(_ context.Context, n notify.Notification) error {
	c.items = append(c.items, n)
	return nil
}

type captureIndex struct{ issues []model.Issue }

func (c *captureIndex) IndexIssues(_ context.Context, issues []model.Issue) error {
	c.issues = append(c.issues, issues...)
	return nil
}

type fixture struct {
	store *storage.MemoryStore
	svc   *Service
	sink  *captureSink
	index *captureIndex
	doc   *model.PolicyDocument
	issue *model.Issue
}

func newFixture(t *testing.T, content string, changes ...model.SuggestedChange) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	doc := &model.PolicyDocument{AccountID: "acct", Name: "Training", Content: &content}
	if err := store.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	issue := &model.Issue{PolicyDocumentID: doc.ID, Type: model.IssueSpelling, Description: "spelling", SuggestedChanges: changes}
	if err := store.CreateIssue(context.Background(), issue); err != nil {
		t.Fatalf("create issue: %v", err)
	}
	f := &fixture{store: store, sink: &captureSink{}, index: &captureIndex{}, doc: doc, issue: issue}
	f.svc = NewService(store, Options{Sink: f.sink, Index: f.index, Logger: logging.Nop(), Metrics: metrics.New(nil)})
	return f
}

func (f *fixture) content(t *testing.T) string {
	t.Helper()
	doc, err := f.store.GetDocument(context.Background(), f.doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	return doc.Text()
}

func TestApplyStaleSuggestionLeavesEverythingUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "Staff receive training.",
		model.SuggestedChange{Action: model.ActionReplace, OriginalText: "recieve", SuggestedText: "receive"})

	_, err := f.svc.Apply(ctx, f.issue.SuggestedChanges[0].ID)
	if !errors.Is(err, model.ErrStaleSuggestion) {
		t.Fatalf("expected stale error, got %v", err)
	}
	if got := f.content(t); got != "Staff receive training." {
		t.Fatalf("content mutated: %q", got)
	}
	issue, _ := f.store.GetIssue(ctx, f.issue.ID)
	if issue.SuggestedChanges[0].Status != model.ChangePending || issue.Status != model.IssueOpen {
		t.Fatalf("state changed after stale apply: %+v", issue)
	}
	if len(f.sink.items) != 0 || len(f.index.issues) != 0 {
		t.Fatalf("nothing should be published for a rejected apply")
	}
}

func TestApplyReplacePatchesAndResolves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "Staff recieve training.",
		model.SuggestedChange{Action: model.ActionReplace, OriginalText: "recieve", SuggestedText: "receive"})

	out, err := f.svc.Apply(ctx, f.issue.SuggestedChanges[0].ID)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.Content == nil || *out.Content != "Staff receive training." || f.content(t) != "Staff receive training." {
		t.Fatalf("unexpected content %v", out.Content)
	}
	if !out.Resolved || out.Issue.Status != model.IssueResolved || out.Change.Status != model.ChangeApplied {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(f.index.issues) != 1 || f.index.issues[0].Status != model.IssueResolved {
		t.Fatalf("resolved issue not reindexed: %+v", f.index.issues)
	}
	if len(f.sink.items) != 1 || f.sink.items[0].Target != notify.TargetIssuesList || !strings.Contains(f.sink.items[0].HTML, "No open issues") {
		t.Fatalf("issue list not refreshed: %+v", f.sink.items)
	}

	if _, err := f.svc.Apply(ctx, f.issue.SuggestedChanges[0].ID); !errors.Is(err, model.ErrChangeNotPending) {
		t.Fatalf("second apply should be rejected, got %v", err)
	}
	if _, err := f.svc.Dismiss(ctx, f.issue.SuggestedChanges[0].ID); !errors.Is(err, model.ErrChangeNotPending) {
		t.Fatalf("dismiss after apply should be rejected, got %v", err)
	}
}

func TestDismissResolvesOnlyOnLastPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "Body",
		model.SuggestedChange{Action: model.ActionReplace, OriginalText: "Body", SuggestedText: "Text"},
		model.SuggestedChange{Action: model.ActionDelete, OriginalText: "Body"})

	out, err := f.svc.Dismiss(ctx, f.issue.SuggestedChanges[0].ID)
	if err != nil {
		t.Fatalf("first dismiss: %v", err)
	}
	if out.Resolved || out.Issue.Status != model.IssueOpen {
		t.Fatalf("issue must stay open while a change is pending: %+v", out.Issue)
	}
	if out.Content != nil {
		t.Fatalf("dismiss must not report content")
	}

	out, err = f.svc.Dismiss(ctx, f.issue.SuggestedChanges[1].ID)
	if err != nil {
		t.Fatalf("second dismiss: %v", err)
	}
	if !out.Resolved || out.Issue.Status != model.IssueResolved {
		t.Fatalf("issue should resolve after the last pending change: %+v", out.Issue)
	}
	if f.content(t) != "Body" {
		t.Fatalf("dismiss must not touch content")
	}
}

func TestApplyInsertAppendsBlock(t *testing.T) {
	prior := "# Complaints\n\nHandled by the manager."
	suggested := "## Escalation\n\nContact the ombudsman."
	f := newFixture(t, prior, model.SuggestedChange{Action: model.ActionInsert, SuggestedText: suggested})

	out, err := f.svc.Apply(context.Background(), f.issue.SuggestedChanges[0].ID)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	got := f.content(t)
	if got != prior+"\n\n"+suggested || len(got) != len(prior)+2+len(suggested) {
		t.Fatalf("unexpected content %q", got)
	}
	if *out.Content != got {
		t.Fatalf("outcome content differs from stored content")
	}
}

func TestApplyUnknownChange(t *testing.T) {
	f := newFixture(t, "Body")
	if _, err := f.svc.Apply(context.Background(), "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateIssueStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "Body")

	if _, err := f.svc.UpdateIssueStatus(ctx, "other-doc", f.issue.ID, model.IssueDismissed); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("issue of another document should be not found, got %v", err)
	}
	if _, err := f.svc.UpdateIssueStatus(ctx, f.doc.ID, f.issue.ID, "archived"); !errors.Is(err, model.ErrInvalidIssue) {
		t.Fatalf("expected invalid status, got %v", err)
	}
	issue, err := f.svc.UpdateIssueStatus(ctx, f.doc.ID, f.issue.ID, model.IssueDismissed)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if issue.Status != model.IssueDismissed {
		t.Fatalf("unexpected status %s", issue.Status)
	}
	open, _ := f.store.ListOpenIssues(ctx, f.doc.ID)
	if len(open) != 0 {
		t.Fatalf("dismissed issue still open")
	}
}
