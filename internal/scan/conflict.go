package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/PolicyPro/internal/llm"
	"github.com/dharsanguruparan/PolicyPro/internal/metrics"
	"github.com/dharsanguruparan/PolicyPro/internal/model"
	"github.com/dharsanguruparan/PolicyPro/internal/prompts"
	"github.com/dharsanguruparan/PolicyPro/internal/repository"
)

const (
	DefaultMaxIterations = 50

	toolGetPolicyContent = "get_policy_content"
	toolReportConflict   = "report_conflict"
)

// ConflictOptions configures a ConflictScanner.
type ConflictOptions struct {
	MaxIterations int
	Retry         llm.RetryPolicy
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

// ConflictScanner compares a document with the other documents of its
// account through a tool-calling conversation with the reasoning service.
type ConflictScanner struct {
	llm           llm.Completer
	store         repository.Store
	prompt        prompts.Prompt
	maxIterations int
	log           zerolog.Logger
	metrics       *metrics.Metrics
}

// NewConflictScanner wraps c in the retry policy from opts. Rate-limited
// calls are retried there; every other error ends the scan.
func NewConflictScanner(c llm.Completer, store repository.Store, p prompts.Prompt, opts ConflictOptions) *ConflictScanner {
	s := &ConflictScanner{
		store:         store,
		prompt:        p,
		maxIterations: opts.MaxIterations,
		log:           opts.Logger,
		metrics:       opts.Metrics,
	}
	if s.maxIterations <= 0 {
		s.maxIterations = DefaultMaxIterations
	}

	retry := opts.Retry
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = time.Second
	}
	next := retry.OnRetry
	retry.OnRetry = func(attempt int, delay time.Duration, rl *llm.RateLimitError) {
		s.log.Info().
			Int("attempt", attempt).
			Int("max_retries", retry.MaxRetries).
			Dur("delay", delay).
			Msg("conflict scan rate limited, retrying")
		s.metrics.RecordRateLimitRetry()
		if next != nil {
			next(attempt, delay, rl)
		}
	}
	s.llm = retry.Wrap(c)
	return s
}

func (s *ConflictScanner) Name() string     { return "conflict" }
func (s *ConflictScanner) Progress() string { return "Checking for conflicts..." }

// conflictSession is the state of one conversation. Tool handlers only see
// what is passed to them through it.
type conflictSession struct {
	doc      *model.PolicyDocument
	siblings map[string]model.DocumentRef
	order    []model.DocumentRef
	reported []model.Issue
}

func newConflictSession(doc *model.PolicyDocument, refs []model.DocumentRef) *conflictSession {
	sess := &conflictSession{doc: doc, siblings: make(map[string]model.DocumentRef, len(refs)), order: refs}
	for _, ref := range refs {
		sess.siblings[ref.ID] = ref
	}
	return sess
}

func (sess *conflictSession) userPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Current Policy: %s\n\n%s\n\n---\n\n## Other Policies:\n\n", sess.doc.Name, sess.doc.Text())
	for i, ref := range sess.order {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s (ID: %s)", ref.Name, ref.ID)
	}
	return b.String()
}

// Scan runs the conversation. Documents without content, or without
// siblings to compare against, are skipped.
func (s *ConflictScanner) Scan(ctx context.Context, doc *model.PolicyDocument) ([]model.Issue, error) {
	if !doc.HasContent() {
		return nil, nil
	}
	refs, err := s.store.ListSiblingDocuments(ctx, doc.AccountID, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("list sibling documents: %w", err)
	}
	if len(refs) == 0 {
		s.log.Debug().Str("document_id", doc.ID).Msg("no sibling documents, skipping conflict scan")
		return nil, nil
	}
	sess := newConflictSession(doc, refs)
	err = s.converse(ctx, sess)
	return sess.reported, err
}

func (s *ConflictScanner) converse(ctx context.Context, sess *conflictSession) error {
	log := s.log.With().Str("scanner", "conflict").Str("document_id", sess.doc.ID).Logger()
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: s.prompt.System},
		{Role: llm.RoleUser, Content: sess.userPrompt()},
	}
	tools := conflictTools()

	calls := 0
	defer func() { s.metrics.ObserveConflictIterations(calls) }()

	for {
		if calls >= s.maxIterations {
			log.Warn().Int("max_iterations", s.maxIterations).Msg("conflict scan hit max iterations")
			return nil
		}
		calls++
		resp, err := s.llm.Complete(ctx, llm.Request{
			Model:      s.prompt.Model,
			Messages:   messages,
			Tools:      tools,
			ToolChoice: "auto",
			MaxTokens:  s.prompt.MaxTokens,
		})
		if err != nil {
			return fmt.Errorf("conflict request: %w", err)
		}
		reply := resp.Message
		reply.Role = llm.RoleAssistant
		messages = append(messages, reply)
		if len(reply.ToolCalls) == 0 {
			log.Debug().Int("iterations", calls).Int("reported", len(sess.reported)).Msg("conflict conversation finished")
			return nil
		}

		for _, call := range reply.ToolCalls {
			result, err := s.handleToolCall(ctx, sess, call)
			if err != nil {
				return err
			}
			messages = append(messages, llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: result})
		}
	}
}

// policyRef accepts an id sent either as a JSON string or a number.
type policyRef string

func (p *policyRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = policyRef(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("policy id must be a string or number")
	}
	*p = policyRef(n.String())
	return nil
}

type getPolicyArgs struct {
	PolicyID policyRef `json:"policy_id"`
}

type reportConflictArgs struct {
	OtherPolicyID policyRef `json:"other_policy_id"`
	Description   string    `json:"description"`
	Excerpt       string    `json:"excerpt"`
	OriginalText  string    `json:"original_text"`
	SuggestedText string    `json:"suggested_text"`
}

func toolResult(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"error":"internal error"}`
	}
	return string(b)
}

func toolError(msg string) string {
	return toolResult(map[string]any{"error": msg})
}

// handleToolCall executes one tool call. Problems with the call itself are
// reported back to the service; only store failures abort the scan.
func (s *ConflictScanner) handleToolCall(ctx context.Context, sess *conflictSession, call llm.ToolCall) (string, error) {
	switch call.Function.Name {
	case toolGetPolicyContent:
		var args getPolicyArgs
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return toolError("invalid arguments: " + err.Error()), nil
		}
		return s.getPolicyContent(ctx, sess, string(args.PolicyID))
	case toolReportConflict:
		var args reportConflictArgs
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return toolError("invalid arguments: " + err.Error()), nil
		}
		return s.reportConflict(ctx, sess, args)
	default:
		return toolError("unknown tool " + call.Function.Name), nil
	}
}

func (s *ConflictScanner) getPolicyContent(ctx context.Context, sess *conflictSession, id string) (string, error) {
	if _, ok := sess.siblings[id]; !ok {
		return toolError("Not found"), nil
	}
	other, err := s.store.GetDocument(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return toolError("Not found"), nil
		}
		return "", fmt.Errorf("get policy content: %w", err)
	}
	return toolResult(map[string]any{"id": other.ID, "name": other.Name, "content": other.Text()}), nil
}

func (s *ConflictScanner) reportConflict(ctx context.Context, sess *conflictSession, args reportConflictArgs) (string, error) {
	otherID := string(args.OtherPolicyID)
	if _, ok := sess.siblings[otherID]; !ok {
		return toolError("Not found"), nil
	}
	if strings.TrimSpace(args.Description) == "" {
		return toolError("description is required"), nil
	}

	exists, err := s.store.HasOpenConflict(ctx, sess.doc.ID, otherID)
	if err != nil {
		return "", fmt.Errorf("check existing conflict: %w", err)
	}
	if exists {
		s.log.Debug().Str("document_id", sess.doc.ID).Str("other_id", otherID).Msg("conflict already reported")
		return toolResult(map[string]any{"skipped": true, "message": "Conflict already reported"}), nil
	}

	issue := model.Issue{
		AccountID:        sess.doc.AccountID,
		PolicyDocumentID: sess.doc.ID,
		Type:             model.IssueConflict,
		Description:      strings.TrimSpace(args.Description),
		Excerpt:          args.Excerpt,
		RelatedPolicyIDs: []string{otherID},
	}
	if args.OriginalText != "" && args.SuggestedText != "" {
		issue.SuggestedChanges = []model.SuggestedChange{{
			Action:        model.ActionReplace,
			OriginalText:  args.OriginalText,
			SuggestedText: args.SuggestedText,
		}}
	}
	if err := s.store.CreateIssue(ctx, &issue); err != nil {
		return "", fmt.Errorf("create conflict issue: %w", err)
	}
	sess.reported = append(sess.reported, issue)
	s.log.Info().Str("document_id", sess.doc.ID).Str("other_id", otherID).Str("issue_id", issue.ID).Msg("conflict reported")
	return toolResult(map[string]any{"success": true, "issue_id": issue.ID}), nil
}

func conflictTools() []llm.Tool {
	return []llm.Tool{
		llm.FunctionTool(toolGetPolicyContent, "Fetch the full content of another policy to compare for conflicts", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"policy_id": map[string]any{"type": "string", "description": "ID from the list of other policies"},
			},
			"required": []string{"policy_id"},
		}),
		llm.FunctionTool(toolReportConflict, "Report a conflict between the current policy and another policy", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"other_policy_id": map[string]any{"type": "string"},
				"description":     map[string]any{"type": "string"},
				"excerpt":         map[string]any{"type": "string"},
				"original_text":   map[string]any{"type": "string"},
				"suggested_text":  map[string]any{"type": "string"},
			},
			"required": []string{"other_policy_id", "description", "excerpt"},
		}),
	}
}
