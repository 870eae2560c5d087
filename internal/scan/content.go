package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/PolicyPro/internal/llm"
	"github.com/dharsanguruparan/PolicyPro/internal/model"
	"github.com/dharsanguruparan/PolicyPro/internal/prompts"
	"github.com/dharsanguruparan/PolicyPro/internal/repository"
)

// ContentScanner is a single-shot classifier: the whole document goes to
// the reasoning service once and the JSON issue list that comes back is
// stored. It never retries.
type ContentScanner struct {
	name      string
	progress  string
	issueType model.IssueType
	prompt    prompts.Prompt
	llm       llm.Completer
	store     repository.Store
	log       zerolog.Logger

	// spelling suggestions are always replacements
	forceReplace bool
	withMetadata bool
	userMessage  func(doc *model.PolicyDocument) string
}

// NewSpellingScanner flags misspellings.
func NewSpellingScanner(c llm.Completer, store repository.Store, p prompts.Prompt, log zerolog.Logger) *ContentScanner {
	return &ContentScanner{
		name:         "spelling",
		progress:     "Checking spelling...",
		issueType:    model.IssueSpelling,
		prompt:       p,
		llm:          c,
		store:        store,
		log:          log,
		forceReplace: true,
		userMessage:  func(doc *model.PolicyDocument) string { return doc.Text() },
	}
}

// NewComplianceScanner checks the policy against CQC expectations.
func NewComplianceScanner(c llm.Completer, store repository.Store, p prompts.Prompt, log zerolog.Logger) *ContentScanner {
	return &ContentScanner{
		name:         "compliance",
		progress:     "Checking CQC compliance...",
		issueType:    model.IssueCQCCompliance,
		prompt:       p,
		llm:          c,
		store:        store,
		log:          log,
		withMetadata: true,
		userMessage: func(doc *model.PolicyDocument) string {
			return "Policy: " + doc.Name + "\n\n" + doc.Text()
		},
	}
}

func (s *ContentScanner) Name() string     { return s.name }
func (s *ContentScanner) Progress() string { return s.progress }

type contentResponse struct {
	OverallAssessment string            `json:"overall_assessment"`
	Issues            []json.RawMessage `json:"issues"`
}

type issueEntry struct {
	Description          string            `json:"description"`
	Excerpt              string            `json:"excerpt"`
	CQCDomain            string            `json:"cqc_domain"`
	RequirementReference string            `json:"requirement_reference"`
	Severity             string            `json:"severity"`
	Suggestions          []suggestionEntry `json:"suggestions"`
}

type suggestionEntry struct {
	ActionType    string `json:"action_type"`
	OriginalText  string `json:"original_text"`
	SuggestedText string `json:"suggested_text"`
}

// Scan sends the document to the reasoning service and stores every
// well-formed issue in the reply.
func (s *ContentScanner) Scan(ctx context.Context, doc *model.PolicyDocument) ([]model.Issue, error) {
	if !doc.HasContent() {
		return nil, nil
	}
	log := s.log.With().Str("scanner", s.name).Str("document_id", doc.ID).Logger()

	resp, err := s.llm.Complete(ctx, llm.Request{
		Model: s.prompt.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: s.prompt.System},
			{Role: llm.RoleUser, Content: s.userMessage(doc)},
		},
		ResponseFormat: llm.JSONObject,
		MaxTokens:      s.prompt.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", s.name, err)
	}

	parsed, ok := decodeContentResponse(resp.Message.Content)
	if !ok {
		log.Warn().Str("response", snippet(resp.Message.Content)).Msg("unparseable scanner response, treating as no issues")
		return nil, nil
	}
	if parsed.OverallAssessment != "" {
		log.Info().Str("overall_assessment", parsed.OverallAssessment).Msg("compliance assessment")
	}

	var created []model.Issue
	for idx, raw := range parsed.Issues {
		issue, ok := s.buildIssue(log, doc, idx, raw)
		if !ok {
			continue
		}
		if err := s.store.CreateIssue(ctx, &issue); err != nil {
			if errors.Is(err, model.ErrInvalidIssue) || errors.Is(err, model.ErrInvalidChange) {
				log.Warn().Err(err).Int("entry", idx).Msg("skipping invalid issue")
				continue
			}
			return created, fmt.Errorf("store %s issue: %w", s.name, err)
		}
		created = append(created, issue)
	}
	return created, nil
}

func decodeContentResponse(content string) (contentResponse, bool) {
	var out contentResponse
	if err := llm.DecodeJSON(content, &out); err != nil {
		return contentResponse{}, false
	}
	return out, true
}

func (s *ContentScanner) buildIssue(log zerolog.Logger, doc *model.PolicyDocument, idx int, raw json.RawMessage) (model.Issue, bool) {
	var entry issueEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		log.Warn().Err(err).Int("entry", idx).Msg("skipping malformed issue")
		return model.Issue{}, false
	}
	if strings.TrimSpace(entry.Description) == "" {
		log.Warn().Int("entry", idx).Msg("skipping issue without description")
		return model.Issue{}, false
	}

	issue := model.Issue{
		AccountID:        doc.AccountID,
		PolicyDocumentID: doc.ID,
		Type:             s.issueType,
		Description:      strings.TrimSpace(entry.Description),
		Excerpt:          entry.Excerpt,
	}
	if s.withMetadata {
		meta := map[string]string{}
		for k, v := range map[string]string{
			"cqc_domain":            entry.CQCDomain,
			"requirement_reference": entry.RequirementReference,
			"severity":              entry.Severity,
		} {
			if v != "" {
				meta[k] = v
			}
		}
		if len(meta) > 0 {
			issue.Metadata = meta
		}
	}

	for j, sg := range entry.Suggestions {
		action := model.ActionReplace
		if !s.forceReplace {
			a, err := model.ParseActionType(sg.ActionType, model.ActionReplace)
			if err != nil {
				log.Debug().Err(err).Int("entry", idx).Int("suggestion", j).Msg("dropping suggestion")
				continue
			}
			action = a
		}
		change := model.SuggestedChange{Action: action, OriginalText: sg.OriginalText, SuggestedText: sg.SuggestedText}
		if err := change.Validate(); err != nil {
			log.Debug().Err(err).Int("entry", idx).Int("suggestion", j).Msg("dropping suggestion")
			continue
		}
		issue.SuggestedChanges = append(issue.SuggestedChanges, change)
	}
	return issue, true
}

func snippet(s string) string {
	const limit = 200
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
