package model

import (
	"errors"
	"testing"
)

func TestPatchReplace(t *testing.T) {
	c := SuggestedChange{Action: ActionReplace, OriginalText: "recieve", SuggestedText: "receive"}
	got, err := c.Patch("Staff recieve training. Managers recieve reports.")
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	// Only the first occurrence is replaced.
	if got != "Staff receive training. Managers recieve reports." {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestPatchStale(t *testing.T) {
	for _, action := range []ActionType{ActionReplace, ActionDelete} {
		c := SuggestedChange{Action: action, OriginalText: "missing", SuggestedText: "x"}
		if _, err := c.Patch("nothing to see"); !errors.Is(err, ErrStaleSuggestion) {
			t.Fatalf("%s: expected stale error, got %v", action, err)
		}
	}
}

func TestPatchInsertAppendsBlock(t *testing.T) {
	prior := "# Policy\n\nBody."
	suggested := "## Training\n\nAll staff complete induction."
	c := SuggestedChange{Action: ActionInsert, SuggestedText: suggested}
	got, err := c.Patch(prior)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if got != prior+"\n\n"+suggested {
		t.Fatalf("unexpected content %q", got)
	}
	if len(got) != len(prior)+2+len(suggested) {
		t.Fatalf("expected length %d, got %d", len(prior)+2+len(suggested), len(got))
	}
}

func TestPatchDelete(t *testing.T) {
	c := SuggestedChange{Action: ActionDelete, OriginalText: " (draft)"}
	got, err := c.Patch("Safeguarding (draft) policy")
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if got != "Safeguarding policy" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestTransitionIsTerminal(t *testing.T) {
	c := SuggestedChange{Status: ChangePending}
	if err := c.Transition(ChangeApplied); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	if err := c.Transition(ChangeDismissed); !errors.Is(err, ErrChangeNotPending) {
		t.Fatalf("expected ErrChangeNotPending, got %v", err)
	}
	if c.Status != ChangeApplied {
		t.Fatalf("status changed to %s", c.Status)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		change  SuggestedChange
		wantErr bool
	}{
		{"replace ok", SuggestedChange{Action: ActionReplace, OriginalText: "a", SuggestedText: "b"}, false},
		{"replace without original", SuggestedChange{Action: ActionReplace, SuggestedText: "b"}, true},
		{"delete without suggested", SuggestedChange{Action: ActionDelete, OriginalText: "a"}, false},
		{"delete without original", SuggestedChange{Action: ActionDelete}, true},
		{"insert without original", SuggestedChange{Action: ActionInsert, SuggestedText: "b"}, false},
		{"insert without suggested", SuggestedChange{Action: ActionInsert}, true},
		{"unknown action", SuggestedChange{Action: "rewrite", OriginalText: "a", SuggestedText: "b"}, true},
	}
	for _, tc := range cases {
		err := tc.change.Validate()
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: wantErr=%v got %v", tc.name, tc.wantErr, err)
		}
	}
}

func TestParseActionType(t *testing.T) {
	got, err := ParseActionType("", ActionReplace)
	if err != nil || got != ActionReplace {
		t.Fatalf("expected default replace, got %q %v", got, err)
	}
	got, err = ParseActionType("insert_text", ActionReplace)
	if err != nil || got != ActionInsert {
		t.Fatalf("expected insert, got %q %v", got, err)
	}
	if _, err := ParseActionType("append", ActionReplace); !errors.Is(err, ErrInvalidChange) {
		t.Fatalf("expected ErrInvalidChange, got %v", err)
	}
}

func TestIssueReadyToResolve(t *testing.T) {
	issue := Issue{SuggestedChanges: []SuggestedChange{{Status: ChangeApplied}, {Status: ChangePending}}}
	if issue.ReadyToResolve() {
		t.Fatalf("issue with a pending change must not resolve")
	}
	issue.SuggestedChanges[1].Status = ChangeDismissed
	if !issue.ReadyToResolve() {
		t.Fatalf("issue without pending changes should resolve")
	}
	if (&Issue{}).ReadyToResolve() {
		t.Fatalf("issue without suggestions should stay open")
	}
}

func TestIssueValidate(t *testing.T) {
	issue := Issue{PolicyDocumentID: "doc", Type: IssueConflict, Description: "  "}
	if err := issue.Validate(); !errors.Is(err, ErrInvalidIssue) {
		t.Fatalf("expected blank description to fail, got %v", err)
	}
	issue.Description = "contradicts leave policy"
	issue.RelatedPolicyIDs = []string{"b", "b"}
	if err := issue.Validate(); !errors.Is(err, ErrInvalidIssue) {
		t.Fatalf("expected duplicate related policy to fail, got %v", err)
	}
	issue.RelatedPolicyIDs = []string{"b"}
	if err := issue.Validate(); err != nil {
		t.Fatalf("valid issue rejected: %v", err)
	}
}
