// Package processing runs parse and scan jobs on an in-process goroutine
// pool. It stands in for the Redis queue when QUEUE_MODE=inline.
package processing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/PolicyPro/internal/queue"
)

// ErrQueueFull is returned when the buffer cannot take another job.
var ErrQueueFull = errors.New("processing queue full")

// Kind selects the job handler.
type Kind string

const (
	KindParse Kind = "parse"
	KindScan  Kind = "scan"
)

// Job represents background processing work.
type Job struct {
	Kind Kind
	ID   string
}

// Runner executes jobs. *worker.Jobs satisfies it.
type Runner interface {
	ParseUpload(ctx context.Context, uploadID string) error
	ScanDocument(ctx context.Context, documentID string) error
}

// Processor consumes Jobs on a fixed number of goroutines.
type Processor struct {
	runner  Runner
	queue   chan Job
	workers int
	log     zerolog.Logger
	wg      sync.WaitGroup
}

var _ queue.Dispatcher = (*Processor)(nil)

// New builds a Processor with queue capacity tied to worker count.
func New(runner Runner, workers int, log zerolog.Logger) *Processor {
	if workers <= 0 {
		workers = 1
	}
	return &Processor{
		runner:  runner,
		queue:   make(chan Job, workers*4),
		workers: workers,
		log:     log,
	}
}

// Start launches worker goroutines. They exit when ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Wait blocks until every worker has exited.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Submit queues a job without blocking.
func (p *Processor) Submit(job Job) error {
	select {
	case p.queue <- job:
		return nil
	default:
		p.log.Warn().Str("kind", string(job.Kind)).Str("id", job.ID).Msg("processor queue full, dropping job")
		return fmt.Errorf("%w: %s %s", ErrQueueFull, job.Kind, job.ID)
	}
}

// EnqueueParse queues ingestion of an upload.
func (p *Processor) EnqueueParse(_ context.Context, uploadID string) error {
	return p.Submit(Job{Kind: KindParse, ID: uploadID})
}

// EnqueueScan queues a claimed scan.
func (p *Processor) EnqueueScan(_ context.Context, documentID string) error {
	return p.Submit(Job{Kind: KindScan, ID: documentID})
}

func (p *Processor) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			p.process(ctx, job)
		}
	}
}

func (p *Processor) process(ctx context.Context, job Job) {
	log := p.log.With().Str("kind", string(job.Kind)).Str("id", job.ID).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("job panicked")
		}
	}()

	var err error
	switch job.Kind {
	case KindParse:
		err = p.runner.ParseUpload(ctx, job.ID)
	case KindScan:
		err = p.runner.ScanDocument(ctx, job.ID)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}
	if err != nil {
		// No retries in-process; the record already carries the failure.
		log.Error().Err(err).Msg("job failed")
	}
}
