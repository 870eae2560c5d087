package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/PolicyPro/internal/metrics"
	"github.com/dharsanguruparan/PolicyPro/internal/model"
	"github.com/dharsanguruparan/PolicyPro/internal/notify"
	"github.com/dharsanguruparan/PolicyPro/internal/repository"
)

// Indexer keeps an external issue index in step with the store.
type Indexer interface {
	IndexIssues(ctx context.Context, issues []model.Issue) error
	RemoveIssues(ctx context.Context, ids []string) error
}

// Options configures an Orchestrator.
type Options struct {
	Sink    notify.Sink
	Index   Indexer
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Orchestrator runs its scanners in order against one document at a time.
type Orchestrator struct {
	store    repository.Store
	scanners []Scanner
	sink     notify.Sink
	index    Indexer
	log      zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Report describes a finished scan.
type Report struct {
	DocumentID string           `json:"documentId"`
	Status     model.ScanStatus `json:"status"`
	Issues     int              `json:"issues"`
	Errors     []ScannerError   `json:"-"`
}

// NewOrchestrator builds an orchestrator over the ordered scanners.
func NewOrchestrator(store repository.Store, scanners []Scanner, opts Options) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		scanners: scanners,
		sink:     opts.Sink,
		index:    opts.Index,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
	if o.sink == nil {
		o.sink = notify.Discard{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Begin claims the document for a new scan and purges its open issues.
// It fails with model.ErrScanInProgress when a scan is already in flight.
func (o *Orchestrator) Begin(ctx context.Context, documentID string) error {
	purged, err := o.store.BeginScan(ctx, documentID)
	if err != nil {
		return err
	}
	log := o.log.With().Str("document_id", documentID).Logger()
	log.Info().Int("purged_issues", len(purged)).Msg("scan started")
	if len(purged) > 0 && o.index != nil {
		if err := o.index.RemoveIssues(ctx, purged); err != nil {
			log.Warn().Err(err).Msg("failed to remove purged issues from index")
		}
	}
	return nil
}

// Scan begins and runs a scan in the calling goroutine.
func (o *Orchestrator) Scan(ctx context.Context, documentID string) (*Report, error) {
	if err := o.Begin(ctx, documentID); err != nil {
		return nil, err
	}
	return o.Run(ctx, documentID)
}

// Run executes every scanner against a document that Begin already claimed.
// A document that is not scanning is left alone, which makes duplicate job
// deliveries harmless. Scanner failures are isolated and summarised into
// the document's scan error; an error is returned only when the scan as a
// whole could not be carried out.
func (o *Orchestrator) Run(ctx context.Context, documentID string) (*Report, error) {
	log := o.log.With().Str("document_id", documentID).Logger()

	doc, err := o.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, o.abort(ctx, log, documentID, fmt.Errorf("load document: %w", err))
	}
	if doc.ScanStatus != model.ScanScanning {
		log.Info().Str("scan_status", string(doc.ScanStatus)).Msg("document not scanning, skipping run")
		return &Report{DocumentID: documentID, Status: doc.ScanStatus}, nil
	}

	var (
		failures []ScannerError
		found    int
	)
	for _, s := range o.scanners {
		o.progress(ctx, log, documentID, s.Progress())

		issues, err := runGuarded(ctx, s, doc)
		found += len(issues)
		if err != nil {
			failures = append(failures, ScannerError{Scanner: s.Name(), Err: err})
			log.Error().Err(err).Str("scanner", s.Name()).Msg("scanner failed")
			o.metrics.RecordScanner(s.Name(), "error", len(issues))
			continue
		}
		log.Info().Str("scanner", s.Name()).Int("issues", len(issues)).Msg("scanner finished")
		o.metrics.RecordScanner(s.Name(), "ok", len(issues))
	}

	report := &Report{DocumentID: documentID, Issues: found, Errors: failures}
	headline := "Scan complete"
	if len(failures) > 0 {
		report.Status = model.ScanFailed
		headline = "Scan completed with errors"
		err = o.store.FailScan(ctx, documentID, Summary(failures), o.now())
	} else {
		report.Status = model.ScanCompleted
		err = o.store.CompleteScan(ctx, documentID, o.now())
	}
	if err != nil {
		return nil, o.abort(ctx, log, documentID, fmt.Errorf("finish scan: %w", err))
	}
	o.metrics.RecordScan(string(report.Status))
	log.Info().Str("status", string(report.Status)).Int("issues", found).Int("failed_scanners", len(failures)).Msg("scan finished")

	open, err := o.store.ListOpenIssues(ctx, documentID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load open issues for observers")
		return report, nil
	}
	o.finished(ctx, log, documentID, report.Status, headline, open)
	if o.index != nil {
		if err := o.index.IndexIssues(ctx, open); err != nil {
			log.Warn().Err(err).Msg("failed to index issues")
		}
	}
	return report, nil
}

// abort records an unrecoverable failure on the document where possible
// and tells observers.
func (o *Orchestrator) abort(ctx context.Context, log zerolog.Logger, documentID string, cause error) error {
	log.Error().Err(cause).Msg("scan failed")
	o.metrics.RecordScan(string(model.ScanFailed))
	if err := o.store.FailScan(ctx, documentID, cause.Error(), o.now()); err != nil && !errors.Is(err, model.ErrNotFound) {
		log.Error().Err(err).Msg("failed to record scan failure")
	}
	var open []model.Issue
	if issues, err := o.store.ListOpenIssues(ctx, documentID); err == nil {
		open = issues
	}
	o.finished(ctx, log, documentID, model.ScanFailed, "Scan failed: "+cause.Error(), open)
	return cause
}

func (o *Orchestrator) progress(ctx context.Context, log zerolog.Logger, documentID, message string) {
	n, err := notify.ScanProgress(documentID, message)
	if err != nil {
		log.Warn().Err(err).Msg("render progress")
		return
	}
	notify.PushAll(ctx, o.sink, log, n)
}

func (o *Orchestrator) finished(ctx context.Context, log zerolog.Logger, documentID string, state model.ScanStatus, headline string, open []model.Issue) {
	ns, err := notify.ScanFinished(documentID, state, headline, open)
	if err != nil {
		log.Warn().Err(err).Msg("render scan result")
		return
	}
	notify.PushAll(ctx, o.sink, log, ns...)
}
