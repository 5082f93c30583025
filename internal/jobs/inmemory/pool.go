// Package inmemory runs jobs on a fixed number of goroutines fed by a
// buffered channel.
package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/finance-sync/internal/jobs"
	"github.com/dvloznov/finance-sync/internal/logger"
)

// Pool is a bounded worker pool. Jobs are picked up in publish order by at
// most workers goroutines at a time.
type Pool struct {
	jobChan   chan *jobs.FetchJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.Store
	workers   int
	closed    bool
	started   bool
}

// NewPool creates a pool. bufferSize determines how many jobs can be queued
// before Publish blocks. store may be nil.
func NewPool(workers, bufferSize int, store jobs.Store) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		jobChan:   make(chan *jobs.FetchJob, bufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		workers:   workers,
	}
}

// Publish enqueues a job.
func (p *Pool) Publish(ctx context.Context, job *jobs.FetchJob) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return fmt.Errorf("pool is closed")
	}
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	job.Status = jobs.StatusPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	if p.store != nil {
		if err := p.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	select {
	case p.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closeChan:
		return fmt.Errorf("pool is closed")
	}
}

// Start launches the workers. Workers exit on Stop; they do not watch ctx,
// so every published job reaches the handler, which decides what to do
// with a cancelled context.
func (p *Pool) Start(ctx context.Context, handler jobs.Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("pool is closed")
	}
	if p.started {
		return fmt.Errorf("pool already started")
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, handler)
	}
	return nil
}

func (p *Pool) worker(ctx context.Context, handler jobs.Handler) {
	defer p.wg.Done()

	for {
		select {
		case <-p.closeChan:
			return
		case job := <-p.jobChan:
			if job == nil {
				return
			}
			p.process(ctx, job, handler)
		}
	}
}

func (p *Pool) process(ctx context.Context, job *jobs.FetchJob, handler jobs.Handler) {
	job.Status = jobs.StatusRunning
	now := time.Now()
	job.StartedAt = &now
	p.save(ctx, job)

	err := handler(ctx, job)

	completedAt := time.Now()
	job.CompletedAt = &completedAt
	if err != nil {
		job.Status = jobs.StatusFailed
		job.Error = err.Error()
		log := logger.FromContext(ctx)
		log.Debug().
			Err(err).
			Str("job_id", job.JobID).
			Str("account_id", job.AccountID).
			Msg("Fetch job failed")
	} else {
		job.Status = jobs.StatusCompleted
		job.Error = ""
	}
	p.save(ctx, job)
}

func (p *Pool) save(ctx context.Context, job *jobs.FetchJob) {
	if p.store == nil {
		return
	}
	// Bookkeeping only; the store must not break the run.
	_ = p.store.SaveJob(context.WithoutCancel(ctx), job)
}

// Stop closes the pool and waits for in-flight jobs. Jobs still queued are
// dropped.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closeChan)
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
		return ctx.Err()
	}
}
