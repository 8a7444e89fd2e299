package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/timmy/wardrobe/internal/logger"
	"github.com/timmy/wardrobe/internal/metrics"
)

// ErrPoolClosed is returned when submitting to a pool that has been shut down.
var ErrPoolClosed = errors.New("worker pool closed")

// Task is a unit of work executed by a WorkerPool.
type Task func(ctx context.Context) error

// Future is the handle of a submitted task.
type Future struct {
	done chan struct{}
	err  error
}

// Done is closed when the task has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type queuedTask struct {
	ctx    context.Context
	task   Task
	future *Future
}

// WorkerPool runs tasks on a fixed number of goroutines fed by a bounded queue.
// The pool size bounds concurrent load on the external model services.
type WorkerPool struct {
	tasks   chan queuedTask
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	queued  atomic.Int64
	active  atomic.Int64
	metrics *metrics.Metrics
}

// WorkerPoolConfig holds configuration for the worker pool.
type WorkerPoolConfig struct {
	Workers   int
	QueueSize int
	Metrics   *metrics.Metrics
}

// NewWorkerPool starts the workers.
func NewWorkerPool(cfg *WorkerPoolConfig) *WorkerPool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 3
	}
	queueSize := cfg.QueueSize
	if queueSize < 0 {
		queueSize = 0
	}

	p := &WorkerPool{
		tasks:   make(chan queuedTask, queueSize),
		metrics: cfg.Metrics,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for qt := range p.tasks {
		p.queued.Add(-1)
		p.active.Add(1)
		p.publish()

		qt.future.err = p.execute(id, qt)
		close(qt.future.done)

		p.active.Add(-1)
		p.publish()
	}
}

func (p *WorkerPool) execute(id int, qt queuedTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(qt.ctx).WithField("worker", id).Errorf("Task panicked: %v", r)
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	return qt.task(qt.ctx)
}

func (p *WorkerPool) publish() {
	p.metrics.SetPoolDepth(int(p.queued.Load()), int(p.active.Load()))
}

// Submit queues a task and returns its handle without waiting for it to run.
// It blocks only while the queue is full, until ctx is done.
// The task runs with taskCtx, which may outlive the submitting request.
func (p *WorkerPool) Submit(ctx, taskCtx context.Context, task Task) (*Future, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	f := &Future{done: make(chan struct{})}
	p.queued.Add(1)
	select {
	case p.tasks <- queuedTask{ctx: taskCtx, task: task, future: f}:
		p.publish()
		return f, nil
	case <-ctx.Done():
		p.queued.Add(-1)
		return nil, fmt.Errorf("failed to queue task: %w", ctx.Err())
	}
}

// Stats returns the number of queued and running tasks.
func (p *WorkerPool) Stats() (queued, active int) {
	return int(p.queued.Load()), int(p.active.Load())
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
