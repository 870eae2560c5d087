// Package api exposes uploads, documents, scans and remediation over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/PolicyPro/internal/config"
	"github.com/dharsanguruparan/PolicyPro/internal/metrics"
	"github.com/dharsanguruparan/PolicyPro/internal/model"
	"github.com/dharsanguruparan/PolicyPro/internal/queue"
	"github.com/dharsanguruparan/PolicyPro/internal/remediation"
	"github.com/dharsanguruparan/PolicyPro/internal/repository"
	"github.com/dharsanguruparan/PolicyPro/internal/search"
)

// FileStore holds raw attachments and processed markdown.
type FileStore interface {
	UploadRaw(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	PresignProcessedURL(ctx context.Context, documentID string) (string, error)
}

// ScanStarter claims a document for a scan.
type ScanStarter interface {
	Begin(ctx context.Context, documentID string) error
}

// Searcher queries the issue index.
type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Hit, int, error)
}

// Deps are the collaborators behind the handlers. Files and Search may be
// nil; their routes then answer 503.
type Deps struct {
	Store       repository.Store
	Files       FileStore
	Jobs        queue.Dispatcher
	Scans       ScanStarter
	Remediation *remediation.Service
	Search      Searcher
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// Server exposes HTTP endpoints for the scan-and-remediate engine.
type Server struct {
	cfg    *config.Config
	deps   Deps
	log    zerolog.Logger
	server *http.Server
	once   sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, deps Deps) *Server {
	return &Server{cfg: cfg, deps: deps, log: deps.Logger}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.cfg.Address,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info().Str("addr", s.cfg.Address).Msg("api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.deps.Metrics.Handler())

	mux.HandleFunc("POST /uploads", s.handleUpload)
	mux.HandleFunc("GET /uploads/{id}", s.handleGetUpload)

	mux.HandleFunc("GET /documents", s.handleListDocuments)
	mux.HandleFunc("GET /documents/{id}", s.handleGetDocument)
	mux.HandleFunc("GET /documents/{id}/processed-url", s.handleProcessedURL)
	mux.HandleFunc("POST /documents/{id}/scan", s.handleStartScan)
	mux.HandleFunc("GET /documents/{id}/issues", s.handleListIssues)
	mux.HandleFunc("PATCH /documents/{id}/issues/{issueId}", s.handleUpdateIssue)

	mux.HandleFunc("POST /suggestions/{id}/apply", s.handleApply)
	mux.HandleFunc("POST /suggestions/{id}/dismiss", s.handleDismiss)

	mux.HandleFunc("GET /issues/search", s.handleSearch)
	return corsMiddleware(s.loggingMiddleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("health check failed")
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps domain errors onto HTTP statuses and the message shown to
// the caller. Unknown errors are reported as 500 without detail.
func statusFor(err error) (int, string) {
	for _, m := range []struct {
		target error
		status int
	}{
		{model.ErrNotFound, http.StatusNotFound},
		{model.ErrScanInProgress, http.StatusConflict},
		{model.ErrStaleSuggestion, http.StatusConflict},
		{model.ErrChangeNotPending, http.StatusConflict},
		{model.ErrNoContent, http.StatusUnprocessableEntity},
		{model.ErrInvalidIssue, http.StatusUnprocessableEntity},
		{model.ErrInvalidChange, http.StatusUnprocessableEntity},
	} {
		if errors.Is(err, m.target) {
			if m.status == http.StatusUnprocessableEntity {
				return m.status, err.Error()
			}
			return m.status, m.target.Error()
		}
	}
	return http.StatusInternalServerError, "internal error"
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	respondJSON(w, status, errorBody{Error: msg})
}

func (s *Server) badRequest(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorBody{Error: msg})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
