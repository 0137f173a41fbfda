package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Priya8975/webhook-ingest-service/internal/domain"
	"github.com/Priya8975/webhook-ingest-service/internal/metrics"
)

var (
	// ErrQueueFull means every worker is busy and the queue stayed full for
	// the whole enqueue wait. The sender should retry later.
	ErrQueueFull = errors.New("dispatch queue full")
	ErrStopped   = errors.New("dispatcher stopped")
)

// Processor handles one envelope. It must not panic.
type Processor interface {
	Process(ctx context.Context, env domain.Envelope) Outcome
}

// Pool runs a fixed number of workers reading from a bounded queue.
type Pool struct {
	numWorkers  int
	jobs        chan domain.Envelope
	proc        Processor
	enqueueWait time.Duration
	logger      *slog.Logger
	wg          sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewPool creates a pool with numWorkers workers and room for queueSize
// waiting envelopes.
func NewPool(numWorkers, queueSize int, enqueueWait time.Duration, proc Processor, logger *slog.Logger) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		numWorkers:  numWorkers,
		jobs:        make(chan domain.Envelope, queueSize),
		proc:        proc,
		enqueueWait: enqueueWait,
		logger:      logger,
	}
}

// Start launches the workers. Queued envelopes are processed with ctx, so
// it should outlive the HTTP server; Stop is what ends the workers.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers, "queue_size", cap(p.jobs))
}

// Submit enqueues env without waiting for it to be processed.
func (p *Pool) Submit(env domain.Envelope) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.jobs <- env:
		metrics.QueueDepth.Set(float64(len(p.jobs)))
		return nil
	default:
	}

	if p.enqueueWait <= 0 {
		return ErrQueueFull
	}
	timer := time.NewTimer(p.enqueueWait)
	defer timer.Stop()

	select {
	case p.jobs <- env:
		metrics.QueueDepth.Set(float64(len(p.jobs)))
		return nil
	case <-timer.C:
		return ErrQueueFull
	}
}

// Stop rejects new submissions, lets the workers drain the queue and waits
// for them. It returns ctx.Err() if ctx ends first.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool stop timed out", "pending", len(p.jobs))
		return ctx.Err()
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for env := range p.jobs {
		metrics.QueueDepth.Set(float64(len(p.jobs)))
		p.proc.Process(ctx, env)
	}
}
