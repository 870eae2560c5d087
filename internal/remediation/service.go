// Package remediation applies and dismisses suggested changes and keeps
// observers and the search index informed afterwards.
package remediation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/PolicyPro/internal/metrics"
	"github.com/dharsanguruparan/PolicyPro/internal/model"
	"github.com/dharsanguruparan/PolicyPro/internal/notify"
	"github.com/dharsanguruparan/PolicyPro/internal/repository"
)

const (
	actionApply   = "apply"
	actionDismiss = "dismiss"
)

// Indexer receives issues whose state changed.
type Indexer interface {
	IndexIssues(ctx context.Context, issues []model.Issue) error
}

// Service wraps the store's atomic transitions.
type Service struct {
	store   repository.Store
	sink    notify.Sink
	index   Indexer
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// Options configures a Service.
type Options struct {
	Sink    notify.Sink
	Index   Indexer
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// NewService builds a remediation service over store.
func NewService(store repository.Store, opts Options) *Service {
	s := &Service{store: store, sink: opts.Sink, index: opts.Index, log: opts.Logger, metrics: opts.Metrics}
	if s.sink == nil {
		s.sink = notify.Discard{}
	}
	return s
}

// Apply patches the document with the change. A change whose original text
// is gone fails with model.ErrStaleSuggestion and nothing is written.
func (s *Service) Apply(ctx context.Context, changeID string) (*model.Outcome, error) {
	out, err := s.store.ApplySuggestedChange(ctx, changeID)
	return s.finish(ctx, actionApply, changeID, out, err)
}

// Dismiss closes the change without touching the document.
func (s *Service) Dismiss(ctx context.Context, changeID string) (*model.Outcome, error) {
	out, err := s.store.DismissSuggestedChange(ctx, changeID)
	return s.finish(ctx, actionDismiss, changeID, out, err)
}

func (s *Service) finish(ctx context.Context, action, changeID string, out *model.Outcome, err error) (*model.Outcome, error) {
	log := s.log.With().Str("action", action).Str("change_id", changeID).Logger()
	if err != nil {
		s.metrics.RecordTransition(action, outcomeLabel(err))
		if isExpected(err) {
			log.Info().Err(err).Msg("suggested change rejected")
		} else {
			log.Error().Err(err).Msg("suggested change transition failed")
		}
		return nil, fmt.Errorf("%s suggested change: %w", action, err)
	}

	s.metrics.RecordTransition(action, string(out.Change.Status))
	log.Info().
		Str("issue_id", out.Issue.ID).
		Bool("resolved", out.Resolved).
		Msg("suggested change transitioned")

	s.publish(ctx, log, out.Issue)
	return out, nil
}

// UpdateIssueStatus sets the status of an issue of the given document.
func (s *Service) UpdateIssueStatus(ctx context.Context, documentID, issueID string, status model.IssueStatus) (*model.Issue, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrInvalidIssue, status)
	}
	current, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if current.PolicyDocumentID != documentID {
		return nil, fmt.Errorf("issue %s of document %s: %w", issueID, documentID, model.ErrNotFound)
	}
	issue, err := s.store.UpdateIssueStatus(ctx, issueID, status)
	if err != nil {
		return nil, err
	}
	log := s.log.With().Str("issue_id", issueID).Logger()
	log.Info().Str("status", string(status)).Msg("issue status updated")
	s.publish(ctx, log, *issue)
	return issue, nil
}

// publish refreshes the open issue list of the issue's document and
// reindexes the issue. Failures are logged only.
func (s *Service) publish(ctx context.Context, log zerolog.Logger, issue model.Issue) {
	if s.index != nil {
		if err := s.index.IndexIssues(ctx, []model.Issue{issue}); err != nil {
			log.Warn().Err(err).Msg("failed to index issue")
		}
	}
	open, err := s.store.ListOpenIssues(ctx, issue.PolicyDocumentID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load open issues for observers")
		return
	}
	n, err := notify.IssuesList(issue.PolicyDocumentID, open)
	if err != nil {
		log.Warn().Err(err).Msg("render issue list")
		return
	}
	notify.PushAll(ctx, s.sink, log, n)
}

func isExpected(err error) bool {
	return errors.Is(err, model.ErrStaleSuggestion) ||
		errors.Is(err, model.ErrChangeNotPending) ||
		errors.Is(err, model.ErrNoContent) ||
		errors.Is(err, model.ErrNotFound)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, model.ErrStaleSuggestion):
		return "stale"
	case errors.Is(err, model.ErrChangeNotPending):
		return "not_pending"
	case errors.Is(err, model.ErrNoContent):
		return "no_content"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
