package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/PolicyPro/internal/model"
	"github.com/dharsanguruparan/PolicyPro/internal/queue"
)

// Processor is plugged into the asynq worker loop.
type Processor struct {
	jobs *Jobs
}

// NewProcessor constructs a worker processor.
func NewProcessor(jobs *Jobs) *Processor {
	return &Processor{jobs: jobs}
}

// Handler registers the job handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ParseDocumentTask, p.handleParse)
	mux.HandleFunc(queue.ScanDocumentTask, p.handleScan)
	return mux
}

func (p *Processor) handleParse(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodeParse(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := p.jobs.ParseUpload(ctx, payload.UploadID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

// handleScan never retries: a failed run has already recorded its outcome
// on the document and a rerun would find it no longer scanning.
func (p *Processor) handleScan(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodeScan(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := p.jobs.ScanDocument(ctx, payload.DocumentID); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return nil
}
