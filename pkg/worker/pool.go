// Package worker provides bounded asynchronous worker pools. Each processing
// subsystem (parse, tier generation, embedding) owns one pool so that a slow
// subsystem never starves the others.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/logger"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// Task is a unit of work for the worker pool to execute. The context is
// cancelled when the pool is aborted.
type Task func(ctx context.Context)

// Config is the configuration options for the worker pool.
type Config struct {
	// Name identifies the pool in logs ("parse", "tier", "embed").
	Name string

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered task channel (defaults to 256).
	QueueSize uint

	// Logger is the provided slog logger.
	Logger *slog.Logger
}

// Pool executes tasks on a fixed set of goroutines fed by a bounded queue.
type Pool struct {
	name      string
	queue     chan Task
	closing   chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *slog.Logger
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	numWorkers := c.NumWorkers
	if numWorkers == 0 {
		numWorkers = defaultNumWorkers
	}
	queueSize := c.QueueSize
	if queueSize == 0 {
		queueSize = defaultJobQueueSize
	}
	if numWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", numWorkers)
	}

	log := c.Logger
	if log == nil {
		log = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	wp := &Pool{
		name:    c.Name,
		queue:   make(chan Task, queueSize),
		closing: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With("pool", c.Name),
	}

	wp.wg.Add(int(numWorkers))
	for i := range numWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a task without blocking. It returns false when the queue
// is full or the pool is closed; the task is dropped.
func (p *Pool) Enqueue(t Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	select {
	case p.queue <- t:
		return true
	default:
		p.logger.Warn("task not queued, queue full")
		return false
	}
}

// Submit queues a task, blocking while the queue is full. It fails with
// ctx.Err() when ctx ends first and errs.ErrClosed once the pool is closing.
func (p *Pool) Submit(ctx context.Context, t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errs.ErrClosed
	}

	select {
	case p.queue <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closing:
		return errs.ErrClosed
	}
}

// Len is the number of queued tasks not yet picked up by a worker.
func (p *Pool) Len() int {
	return len(p.queue)
}

// Close stops accepting tasks and waits for queued and in-flight tasks to
// drain.
func (p *Pool) Close() {
	p.shutdown(false)
}

// Abort cancels the context handed to tasks, then drains like Close.
func (p *Pool) Abort() {
	p.shutdown(true)
}

func (p *Pool) shutdown(abort bool) {
	// unblock Submit callers holding the read lock
	p.closeOnce.Do(func() { close(p.closing) })

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	if abort {
		p.cancel()
	}
	p.wg.Wait()
	p.cancel()
}

// worker is the inner worker loop that continuously pulls tasks off the queue.
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	for task := range p.queue {
		p.run(task)
	}

	p.logger.Debug("worker stopped", "worker_id", id)
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "panic", r)
		}
	}()
	task(p.ctx)
}

// IsClosed reports whether err came from a closed pool.
func IsClosed(err error) bool {
	return errors.Is(err, errs.ErrClosed)
}
