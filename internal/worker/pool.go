package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/dunamismax/artprep/internal/domain"
)

var (
	ErrPoolSaturated = errors.New("worker pool is at capacity")
	ErrPoolClosed    = errors.New("worker pool is shut down")
)

type Handler func(ctx context.Context, job domain.Job)

// Pool runs detached jobs on a fixed number of goroutines. Each job runs
// start to finish on one worker. Dispatch never blocks: when the backlog is
// full the job is rejected.
type Pool struct {
	logger  *log.Logger
	queue   chan domain.Job
	workers int
	handler Handler
	metrics *Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(logger *log.Logger, workers, backlog int, handler Handler, m *Metrics) *Pool {
	if workers < 1 {
		workers = 1
	}
	if backlog < 0 {
		backlog = 0
	}
	if m == nil {
		m = newDiscardMetrics()
	}
	return &Pool{
		logger:  logger,
		queue:   make(chan domain.Job, backlog),
		workers: workers,
		handler: handler,
		metrics: m,
	}
}

// Start launches the workers. Jobs run with a context derived from ctx that
// is never cancelled, so a started job always reaches its callback.
func (p *Pool) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			for job := range p.queue {
				p.metrics.queuedJobs.Dec()
				p.run(base, workerID, job)
			}
		}(i)
	}
	p.logger.Printf("worker pool started workers=%d backlog=%d", p.workers, cap(p.queue))
}

func (p *Pool) Dispatch(_ context.Context, job domain.Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- job:
		p.metrics.queuedJobs.Inc()
		return nil
	default:
		p.metrics.rejectedTotal.Inc()
		return ErrPoolSaturated
	}
}

// Shutdown stops accepting jobs and waits for queued and running jobs to
// finish, or for ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain worker pool: %w", ctx.Err())
	}
}

func (p *Pool) run(ctx context.Context, workerID int, job domain.Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Printf("worker panic worker=%d job_id=%s panic=%v", workerID, job.ID, r)
		}
	}()
	p.handler(ctx, job)
}
