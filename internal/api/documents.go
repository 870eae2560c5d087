package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dharsanguruparan/PolicyPro/internal/model"
	"github.com/dharsanguruparan/PolicyPro/internal/search"
)

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		s.badRequest(w, http.StatusBadRequest, "account is required")
		return
	}
	docs, err := s.deps.Store.ListDocuments(r.Context(), account)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if docs == nil {
		docs = []model.PolicyDocument{}
	}
	respondJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Store.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleProcessedURL(w http.ResponseWriter, r *http.Request) {
	if s.deps.Files == nil {
		s.badRequest(w, http.StatusServiceUnavailable, "file storage unavailable")
		return
	}
	doc, err := s.deps.Store.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !doc.HasContent() {
		s.respondError(w, r, model.ErrNoContent)
		return
	}
	url, err := s.deps.Files.PresignProcessedURL(r.Context(), doc.ID)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("presign processed url: %w", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

// handleStartScan claims the document and hands the run to a worker. The
// claim happens here so a second request is rejected before anything is
// queued.
func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if err := s.deps.Scans.Begin(ctx, id); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.deps.Jobs.EnqueueScan(ctx, id); err != nil {
		s.releaseScan(ctx, id)
		s.respondError(w, r, fmt.Errorf("enqueue scan: %w", err))
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": string(model.ScanScanning),
	})
}

func (s *Server) releaseScan(ctx context.Context, id string) {
	if err := s.deps.Store.FailScan(ctx, id, "failed to queue scan", time.Now()); err != nil {
		s.log.Error().Err(err).Str("document_id", id).Msg("failed to release scan claim")
	}
}

func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := s.deps.Store.GetDocument(ctx, r.PathValue("id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	issues, err := s.deps.Store.ListOpenIssues(ctx, doc.ID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if issues == nil {
		issues = []model.Issue{}
	}
	respondJSON(w, http.StatusOK, issues)
}

type statusRequest struct {
	Status model.IssueStatus `json:"status"`
}

func (s *Server) handleUpdateIssue(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		s.badRequest(w, http.StatusBadRequest, "invalid json body")
		return
	}
	issue, err := s.deps.Remediation.UpdateIssueStatus(r.Context(), r.PathValue("id"), r.PathValue("issueId"), req.Status)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, issue)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Remediation.Apply(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Remediation.Dismiss(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	// Dismiss never changes content.
	out.Content = nil
	respondJSON(w, http.StatusOK, out)
}

type searchResponse struct {
	Hits  []search.Hit `json:"hits"`
	Total int          `json:"total"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Search == nil {
		s.badRequest(w, http.StatusServiceUnavailable, "search unavailable")
		return
	}
	q := r.URL.Query()
	query := search.Query{
		Text:       q.Get("q"),
		AccountID:  q.Get("account"),
		DocumentID: q.Get("document"),
		Status:     q.Get("status"),
		Limit:      atoiOr(q.Get("limit"), 0),
		Offset:     atoiOr(q.Get("offset"), 0),
	}
	if query.AccountID == "" {
		s.badRequest(w, http.StatusBadRequest, "account is required")
		return
	}
	hits, total, err := s.deps.Search.Search(r.Context(), query)
	if errors.Is(err, search.ErrUnavailable) {
		s.badRequest(w, http.StatusServiceUnavailable, "search unavailable")
		return
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if hits == nil {
		hits = []search.Hit{}
	}
	respondJSON(w, http.StatusOK, searchResponse{Hits: hits, Total: total})
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
