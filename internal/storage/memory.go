// Package storage contains the in-memory implementation of repository.Store
// used by tests and by the inline queue mode.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/PolicyPro/internal/model"
	"github.com/dharsanguruparan/PolicyPro/internal/repository"
)

// MemoryStore keeps every record in maps guarded by one RWMutex. Multi-row
// operations hold the write lock for their whole duration, which gives them
// the same atomicity as the Postgres transactions.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]*model.PolicyDocument
	issues    map[string]*model.Issue
	changes   map[string]string // change id -> issue id
	uploads   map[string]*model.PolicyUpload
	now       func() time.Time
}

var _ repository.Store = (*MemoryStore)(nil)

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]*model.PolicyDocument),
		issues:    make(map[string]*model.Issue),
		changes:   make(map[string]string),
		uploads:   make(map[string]*model.PolicyUpload),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func copyDocument(d *model.PolicyDocument) *model.PolicyDocument {
	out := *d
	if d.Content != nil {
		c := *d.Content
		out.Content = &c
	}
	if d.ScanError != nil {
		e := *d.ScanError
		out.ScanError = &e
	}
	if d.PublishedAt != nil {
		p := *d.PublishedAt
		out.PublishedAt = &p
	}
	if d.LastScannedAt != nil {
		l := *d.LastScannedAt
		out.LastScannedAt = &l
	}
	return &out
}

func copyIssue(i *model.Issue) *model.Issue {
	out := *i
	out.RelatedPolicyIDs = append([]string{}, i.RelatedPolicyIDs...)
	out.SuggestedChanges = append([]model.SuggestedChange{}, i.SuggestedChanges...)
	if i.Metadata != nil {
		out.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func copyUpload(u *model.PolicyUpload) *model.PolicyUpload {
	out := *u
	if u.PolicyDocumentID != nil {
		id := *u.PolicyDocumentID
		out.PolicyDocumentID = &id
	}
	if u.ErrorMessage != nil {
		msg := *u.ErrorMessage
		out.ErrorMessage = &msg
	}
	return &out
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, model.ErrNotFound)
}

// CreateDocument inserts an idle document.
func (m *MemoryStore) CreateDocument(_ context.Context, doc *model.PolicyDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertDocument(doc)
	return nil
}

func (m *MemoryStore) insertDocument(doc *model.PolicyDocument) {
	now := m.now()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.ScanStatus = model.ScanIdle
	doc.CreatedAt = now
	doc.UpdatedAt = now
	m.documents[doc.ID] = copyDocument(doc)
}

// GetDocument returns a copy of the document.
func (m *MemoryStore) GetDocument(_ context.Context, id string) (*model.PolicyDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, notFound("document", id)
	}
	return copyDocument(doc), nil
}

// ListDocuments returns the account's documents ordered by name.
func (m *MemoryStore) ListDocuments(_ context.Context, accountID string) ([]model.PolicyDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.PolicyDocument, 0)
	for _, doc := range m.documents {
		if doc.AccountID == accountID {
			out = append(out, *copyDocument(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteDocument removes the document together with its issues and any
// related-policy links pointing at it.
func (m *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[id]; !ok {
		return notFound("document", id)
	}
	delete(m.documents, id)
	for issueID, issue := range m.issues {
		if issue.PolicyDocumentID == id {
			m.deleteIssue(issueID)
			continue
		}
		kept := issue.RelatedPolicyIDs[:0]
		for _, related := range issue.RelatedPolicyIDs {
			if related != id {
				kept = append(kept, related)
			}
		}
		issue.RelatedPolicyIDs = kept
	}
	for _, upload := range m.uploads {
		if upload.PolicyDocumentID != nil && *upload.PolicyDocumentID == id {
			upload.PolicyDocumentID = nil
		}
	}
	return nil
}

func (m *MemoryStore) deleteIssue(id string) {
	issue, ok := m.issues[id]
	if !ok {
		return
	}
	for _, c := range issue.SuggestedChanges {
		delete(m.changes, c.ID)
	}
	delete(m.issues, id)
}

// ListSiblingDocuments returns the other non-empty documents of the account.
func (m *MemoryStore) ListSiblingDocuments(_ context.Context, accountID, excludeID string) ([]model.DocumentRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	refs := make([]model.DocumentRef, 0)
	for _, doc := range m.documents {
		if doc.AccountID != accountID || doc.ID == excludeID || !doc.HasContent() {
			continue
		}
		refs = append(refs, model.DocumentRef{ID: doc.ID, Name: doc.Name})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

// BeginScan flips the document to scanning and purges its open issues.
func (m *MemoryStore) BeginScan(_ context.Context, id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, notFound("document", id)
	}
	if !doc.CanScan() {
		return nil, model.ErrScanInProgress
	}
	doc.ScanStatus = model.ScanScanning
	doc.ScanError = nil
	doc.UpdatedAt = m.now()
	purged := make([]string, 0)
	for issueID, issue := range m.issues {
		if issue.PolicyDocumentID == id && issue.Status == model.IssueOpen {
			purged = append(purged, issueID)
		}
	}
	sort.Strings(purged)
	for _, issueID := range purged {
		m.deleteIssue(issueID)
	}
	return purged, nil
}

// CompleteScan marks the scan completed.
func (m *MemoryStore) CompleteScan(_ context.Context, id string, at time.Time) error {
	return m.finishScan(id, model.ScanCompleted, nil, at)
}

// FailScan marks the scan failed and stores the message.
func (m *MemoryStore) FailScan(_ context.Context, id, message string, at time.Time) error {
	return m.finishScan(id, model.ScanFailed, &message, at)
}

func (m *MemoryStore) finishScan(id string, status model.ScanStatus, scanErr *string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return notFound("document", id)
	}
	at = at.UTC()
	doc.ScanStatus = status
	doc.ScanError = scanErr
	doc.LastScannedAt = &at
	doc.UpdatedAt = at
	return nil
}

// CreateIssue stores the issue and its suggested changes.
func (m *MemoryStore) CreateIssue(_ context.Context, issue *model.Issue) error {
	if err := issue.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[issue.PolicyDocumentID]
	if !ok {
		return notFound("document", issue.PolicyDocumentID)
	}
	for _, related := range issue.RelatedPolicyIDs {
		if _, ok := m.documents[related]; !ok {
			return notFound("document", related)
		}
	}
	now := m.now()
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	if issue.AccountID == "" {
		issue.AccountID = doc.AccountID
	}
	issue.Status = model.IssueOpen
	issue.CreatedAt = now
	issue.UpdatedAt = now
	if issue.RelatedPolicyIDs == nil {
		issue.RelatedPolicyIDs = []string{}
	}
	if issue.SuggestedChanges == nil {
		issue.SuggestedChanges = []model.SuggestedChange{}
	}
	for i := range issue.SuggestedChanges {
		c := &issue.SuggestedChanges[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.IssueID = issue.ID
		c.Status = model.ChangePending
		c.CreatedAt = now
		c.UpdatedAt = now
		m.changes[c.ID] = issue.ID
	}
	m.issues[issue.ID] = copyIssue(issue)
	return nil
}

// GetIssue returns a copy of the issue.
func (m *MemoryStore) GetIssue(_ context.Context, id string) (*model.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	issue, ok := m.issues[id]
	if !ok {
		return nil, notFound("issue", id)
	}
	return copyIssue(issue), nil
}

// ListOpenIssues returns the document's open issues, oldest first.
func (m *MemoryStore) ListOpenIssues(_ context.Context, documentID string) ([]model.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Issue, 0)
	for _, issue := range m.issues {
		if issue.PolicyDocumentID == documentID && issue.Status == model.IssueOpen {
			out = append(out, *copyIssue(issue))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// HasOpenConflict checks both directions of the document pair.
func (m *MemoryStore) HasOpenConflict(_ context.Context, documentID, otherID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, issue := range m.issues {
		if issue.Type != model.IssueConflict || issue.Status != model.IssueOpen {
			continue
		}
		if issue.PolicyDocumentID == documentID && issue.LinksDocument(otherID) {
			return true, nil
		}
		if issue.PolicyDocumentID == otherID && issue.LinksDocument(documentID) {
			return true, nil
		}
	}
	return false, nil
}

// UpdateIssueStatus sets the status chosen by a reviewer.
func (m *MemoryStore) UpdateIssueStatus(_ context.Context, id string, status model.IssueStatus) (*model.Issue, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrInvalidIssue, status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.issues[id]
	if !ok {
		return nil, notFound("issue", id)
	}
	issue.Status = status
	issue.UpdatedAt = m.now()
	return copyIssue(issue), nil
}

// ApplySuggestedChange patches the document, marks the change applied and
// re-evaluates the issue under one lock.
func (m *MemoryStore) ApplySuggestedChange(_ context.Context, id string) (*model.Outcome, error) {
	return m.transitionChange(id, model.ChangeApplied)
}

// DismissSuggestedChange marks the change dismissed and re-evaluates the issue.
func (m *MemoryStore) DismissSuggestedChange(_ context.Context, id string) (*model.Outcome, error) {
	return m.transitionChange(id, model.ChangeDismissed)
}

func (m *MemoryStore) transitionChange(id string, to model.ChangeStatus) (*model.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	issueID, ok := m.changes[id]
	if !ok {
		return nil, notFound("suggested change", id)
	}
	issue := m.issues[issueID]
	idx := -1
	for i := range issue.SuggestedChanges {
		if issue.SuggestedChanges[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, notFound("suggested change", id)
	}
	change := issue.SuggestedChanges[idx]
	if change.Status != model.ChangePending {
		return nil, model.ErrChangeNotPending
	}
	now := m.now()
	var out model.Outcome
	var doc *model.PolicyDocument
	var patched string
	if to == model.ChangeApplied {
		doc, ok = m.documents[issue.PolicyDocumentID]
		if !ok {
			return nil, notFound("document", issue.PolicyDocumentID)
		}
		if doc.Content == nil {
			return nil, model.ErrNoContent
		}
		var err error
		patched, err = change.Patch(*doc.Content)
		if err != nil {
			return nil, err
		}
	}
	if err := change.Transition(to); err != nil {
		return nil, err
	}
	// Nothing is written until every check above has passed.
	if doc != nil {
		content := patched
		doc.Content = &content
		doc.UpdatedAt = now
		out.Content = &patched
	}
	change.UpdatedAt = now
	issue.SuggestedChanges[idx] = change
	if issue.Status == model.IssueOpen && issue.ReadyToResolve() {
		issue.Status = model.IssueResolved
		issue.UpdatedAt = now
		out.Resolved = true
	}
	out.Change = change
	out.Issue = *copyIssue(issue)
	return &out, nil
}

// CreateUpload inserts a pending upload.
func (m *MemoryStore) CreateUpload(_ context.Context, upload *model.PolicyUpload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if upload.ID == "" {
		upload.ID = uuid.NewString()
	}
	upload.Status = model.UploadPending
	upload.CreatedAt = now
	upload.UpdatedAt = now
	m.uploads[upload.ID] = copyUpload(upload)
	return nil
}

// GetUpload returns a copy of the upload.
func (m *MemoryStore) GetUpload(_ context.Context, id string) (*model.PolicyUpload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	upload, ok := m.uploads[id]
	if !ok {
		return nil, notFound("upload", id)
	}
	return copyUpload(upload), nil
}

// MarkUploadProcessing sets the status to processing.
func (m *MemoryStore) MarkUploadProcessing(_ context.Context, id string) error {
	return m.setUploadStatus(id, model.UploadProcessing, nil)
}

// MarkUploadFailed marks the upload failed with the message.
func (m *MemoryStore) MarkUploadFailed(_ context.Context, id, message string) error {
	return m.setUploadStatus(id, model.UploadFailed, &message)
}

func (m *MemoryStore) setUploadStatus(id string, status model.UploadStatus, msg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	upload, ok := m.uploads[id]
	if !ok {
		return notFound("upload", id)
	}
	upload.Status = status
	upload.ErrorMessage = msg
	upload.UpdatedAt = m.now()
	return nil
}

// CompleteUpload creates or overwrites the upload's document and marks the
// upload completed.
func (m *MemoryStore) CompleteUpload(_ context.Context, id string, ingested model.Ingested) (*model.PolicyDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	upload, ok := m.uploads[id]
	if !ok {
		return nil, notFound("upload", id)
	}
	now := m.now()
	content := ingested.Content
	var doc *model.PolicyDocument
	if upload.PolicyDocumentID != nil {
		if existing, ok := m.documents[*upload.PolicyDocumentID]; ok {
			existing.Content = &content
			existing.PublishedAt = ingested.PublishedAt
			existing.UpdatedAt = now
			doc = existing
		}
	}
	if doc == nil {
		created := &model.PolicyDocument{
			AccountID:   upload.AccountID,
			Name:        upload.Name,
			Content:     &content,
			PublishedAt: ingested.PublishedAt,
		}
		m.insertDocument(created)
		doc = m.documents[created.ID]
	}
	docID := doc.ID
	upload.PolicyDocumentID = &docID
	upload.Status = model.UploadCompleted
	upload.ErrorMessage = nil
	upload.UpdatedAt = now
	return copyDocument(doc), nil
}

// CountUnfinishedUploads counts uploads of the account not yet completed.
func (m *MemoryStore) CountUnfinishedUploads(_ context.Context, accountID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, upload := range m.uploads {
		if upload.AccountID == accountID && upload.Status != model.UploadCompleted {
			n++
		}
	}
	return n, nil
}

// SetContent overwrites a document's content outside the suggestion flow.
func (m *MemoryStore) SetContent(id, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return notFound("document", id)
	}
	doc.Content = &content
	doc.UpdatedAt = m.now()
	return nil
}
