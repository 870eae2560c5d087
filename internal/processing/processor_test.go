package processing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dharsanguruparan/PolicyPro/internal/logging"
)

type recordingRunner struct {
	mu   sync.Mutex
	jobs []Job
	done chan struct{}
}

func (r *recordingRunner) record(job Job) {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *recordingRunner) ParseUpload(_ context.Context, id string) error {
	r.record(Job{Kind: KindParse, ID: id})
	return nil
}

func (r *recordingRunner) ScanDocument(_ context.Context, id string) error {
	r.record(Job{Kind: KindScan, ID: id})
	return errors.New("scan failed")
}

func waitFor(t *testing.T, ch <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for job %d", i+1)
		}
	}
}

func TestProcessorRunsJobs(t *testing.T) {
	runner := &recordingRunner{done: make(chan struct{}, 4)}
	p := New(runner, 2, logging.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	if err := p.EnqueueParse(ctx, "up-1"); err != nil {
		t.Fatalf("enqueue parse: %v", err)
	}
	if err := p.EnqueueScan(ctx, "doc-1"); err != nil {
		t.Fatalf("enqueue scan: %v", err)
	}
	waitFor(t, runner.done, 2)
	cancel()
	p.Wait()

	seen := map[Job]bool{}
	for _, j := range runner.jobs {
		seen[j] = true
	}
	if !seen[Job{Kind: KindParse, ID: "up-1"}] || !seen[Job{Kind: KindScan, ID: "doc-1"}] {
		t.Fatalf("unexpected jobs %+v", runner.jobs)
	}
}

func TestSubmitRejectsWhenFull(t *testing.T) {
	p := New(&recordingRunner{}, 1, logging.Nop())
	// Not started, so nothing drains the buffer of four.
	for i := 0; i < 4; i++ {
		if err := p.EnqueueScan(context.Background(), "doc"); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if err := p.EnqueueScan(context.Background(), "doc"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}
