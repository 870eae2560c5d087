package repository

import (
	"context"
	"time"

	"github.com/dharsanguruparan/PolicyPro/internal/model"
)

// Store is the persistence contract shared by the Postgres repository and
// the in-memory store. Methods that touch more than one row are atomic.
type Store interface {
	CreateDocument(ctx context.Context, doc *model.PolicyDocument) error
	GetDocument(ctx context.Context, id string) (*model.PolicyDocument, error)
	ListDocuments(ctx context.Context, accountID string) ([]model.PolicyDocument, error)
	DeleteDocument(ctx context.Context, id string) error
	// ListSiblingDocuments returns the other documents of the account that
	// carry content.
	ListSiblingDocuments(ctx context.Context, accountID, excludeID string) ([]model.DocumentRef, error)

	// BeginScan flips the document to scanning unless a scan is already in
	// flight and purges its open issues, returning their ids.
	BeginScan(ctx context.Context, id string) ([]string, error)
	CompleteScan(ctx context.Context, id string, at time.Time) error
	FailScan(ctx context.Context, id, message string, at time.Time) error

	CreateIssue(ctx context.Context, issue *model.Issue) error
	GetIssue(ctx context.Context, id string) (*model.Issue, error)
	ListOpenIssues(ctx context.Context, documentID string) ([]model.Issue, error)
	// HasOpenConflict reports an open conflict between the unordered pair.
	HasOpenConflict(ctx context.Context, documentID, otherID string) (bool, error)
	UpdateIssueStatus(ctx context.Context, id string, status model.IssueStatus) (*model.Issue, error)

	ApplySuggestedChange(ctx context.Context, id string) (*model.Outcome, error)
	DismissSuggestedChange(ctx context.Context, id string) (*model.Outcome, error)

	CreateUpload(ctx context.Context, upload *model.PolicyUpload) error
	GetUpload(ctx context.Context, id string) (*model.PolicyUpload, error)
	MarkUploadProcessing(ctx context.Context, id string) error
	MarkUploadFailed(ctx context.Context, id, message string) error
	// CompleteUpload creates the document for the upload, or overwrites the
	// content of the one created by an earlier delivery, and marks the
	// upload completed.
	CompleteUpload(ctx context.Context, id string, ingested model.Ingested) (*model.PolicyDocument, error)
	CountUnfinishedUploads(ctx context.Context, accountID string) (int, error)

	Ping(ctx context.Context) error
}
