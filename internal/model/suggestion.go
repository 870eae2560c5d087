package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrStaleSuggestion means the original text is no longer in the document.
	ErrStaleSuggestion = errors.New("original text not found in policy - it may have been edited")
	// ErrChangeNotPending rejects a second apply or dismiss.
	ErrChangeNotPending = errors.New("suggested change is no longer pending")
	// ErrInvalidChange wraps validation failures for suggested changes.
	ErrInvalidChange = errors.New("invalid suggested change")
)

type ActionType string

const (
	ActionReplace ActionType = "replace_text"
	ActionInsert  ActionType = "insert_text"
	ActionDelete  ActionType = "delete_text"
)

// ParseActionType maps the scanner vocabulary onto ActionType. Blank input
// yields def.
func ParseActionType(raw string, def ActionType) (ActionType, error) {
	switch a := ActionType(strings.TrimSpace(raw)); a {
	case "":
		return def, nil
	case ActionReplace, ActionInsert, ActionDelete:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidChange, raw)
	}
}

type ChangeStatus string

const (
	ChangePending   ChangeStatus = "pending"
	ChangeApplied   ChangeStatus = "applied"
	ChangeDismissed ChangeStatus = "dismissed"
)

// InsertSeparator joins appended blocks to the existing content.
const InsertSeparator = "\n\n"

// SuggestedChange is a concrete text edit proposed for an issue.
type SuggestedChange struct {
	ID            string       `json:"id"`
	IssueID       string       `json:"issueId"`
	Action        ActionType   `json:"actionType"`
	OriginalText  string       `json:"originalText,omitempty"`
	SuggestedText string       `json:"suggestedText,omitempty"`
	Status        ChangeStatus `json:"status"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// Validate enforces the per-action presence rules.
func (c *SuggestedChange) Validate() error {
	switch c.Action {
	case ActionReplace:
		if c.OriginalText == "" {
			return fmt.Errorf("%w: replace_text requires original text", ErrInvalidChange)
		}
		if c.SuggestedText == "" {
			return fmt.Errorf("%w: replace_text requires suggested text", ErrInvalidChange)
		}
	case ActionDelete:
		if c.OriginalText == "" {
			return fmt.Errorf("%w: delete_text requires original text", ErrInvalidChange)
		}
	case ActionInsert:
		if c.SuggestedText == "" {
			return fmt.Errorf("%w: insert_text requires suggested text", ErrInvalidChange)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidChange, c.Action)
	}
	return nil
}

// Patch computes the document content after applying the change. It never
// mutates anything; the caller persists the result.
func (c *SuggestedChange) Patch(content string) (string, error) {
	switch c.Action {
	case ActionReplace:
		if !strings.Contains(content, c.OriginalText) {
			return "", ErrStaleSuggestion
		}
		return strings.Replace(content, c.OriginalText, c.SuggestedText, 1), nil
	case ActionInsert:
		return content + InsertSeparator + c.SuggestedText, nil
	case ActionDelete:
		if !strings.Contains(content, c.OriginalText) {
			return "", ErrStaleSuggestion
		}
		return strings.Replace(content, c.OriginalText, "", 1), nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidChange, c.Action)
	}
}

// Transition moves a pending change to a terminal state.
func (c *SuggestedChange) Transition(to ChangeStatus) error {
	if c.Status != ChangePending {
		return ErrChangeNotPending
	}
	if to != ChangeApplied && to != ChangeDismissed {
		return fmt.Errorf("%w: cannot move to %q", ErrInvalidChange, to)
	}
	c.Status = to
	return nil
}

// Outcome is what a successful apply or dismiss hands back to callers.
type Outcome struct {
	Change   SuggestedChange `json:"change"`
	Issue    Issue           `json:"issue"`
	Content  *string         `json:"content,omitempty"`
	Resolved bool            `json:"resolved"`
}
