package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidIssue wraps validation failures for issues.
var ErrInvalidIssue = errors.New("invalid issue")

type IssueType string

const (
	IssueConflict      IssueType = "conflict"
	IssueSpelling      IssueType = "spelling"
	IssueCQCCompliance IssueType = "cqc_compliance"
)

// Valid reports whether t is a known issue type.
func (t IssueType) Valid() bool {
	switch t {
	case IssueConflict, IssueSpelling, IssueCQCCompliance:
		return true
	}
	return false
}

type IssueStatus string

const (
	IssueOpen      IssueStatus = "open"
	IssueResolved  IssueStatus = "resolved"
	IssueDismissed IssueStatus = "dismissed"
)

// Valid reports whether s is a known issue status.
func (s IssueStatus) Valid() bool {
	switch s {
	case IssueOpen, IssueResolved, IssueDismissed:
		return true
	}
	return false
}

// Issue is one finding produced by a scanner run against a document.
type Issue struct {
	ID               string            `json:"id"`
	AccountID        string            `json:"accountId"`
	PolicyDocumentID string            `json:"policyDocumentId"`
	Type             IssueType         `json:"issueType"`
	Description      string            `json:"description"`
	Excerpt          string            `json:"excerpt,omitempty"`
	Status           IssueStatus       `json:"status"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	RelatedPolicyIDs []string          `json:"relatedPolicyIds"`
	SuggestedChanges []SuggestedChange `json:"suggestedChanges"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// Validate checks the issue and every nested suggested change.
func (i *Issue) Validate() error {
	if strings.TrimSpace(i.PolicyDocumentID) == "" {
		return fmt.Errorf("%w: missing policy document", ErrInvalidIssue)
	}
	if !i.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidIssue, i.Type)
	}
	if strings.TrimSpace(i.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidIssue)
	}
	seen := make(map[string]struct{}, len(i.RelatedPolicyIDs))
	for _, id := range i.RelatedPolicyIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate related policy %s", ErrInvalidIssue, id)
		}
		seen[id] = struct{}{}
	}
	for idx := range i.SuggestedChanges {
		if err := i.SuggestedChanges[idx].Validate(); err != nil {
			return fmt.Errorf("suggestion %d: %w", idx, err)
		}
	}
	return nil
}

// ReadyToResolve is true when no suggested change is still pending. An issue
// without suggestions is never auto-resolved because nothing ever moves it.
func (i *Issue) ReadyToResolve() bool {
	if len(i.SuggestedChanges) == 0 {
		return false
	}
	for _, c := range i.SuggestedChanges {
		if c.Status == ChangePending {
			return false
		}
	}
	return true
}

// LinksDocument reports whether the issue names docID as a related policy.
func (i *Issue) LinksDocument(docID string) bool {
	for _, id := range i.RelatedPolicyIDs {
		if id == docID {
			return true
		}
	}
	return false
}
