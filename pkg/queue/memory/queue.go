// Package memory provides an in-process reference implementation of the
// dispatch queue collaborator: buffered channels per queue name, a worker
// pool per queue, and bounded redelivery of failed jobs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/goliatone/go-record/pkg/dispatch"
)

var (
	// ErrQueueClosed is returned when operations are attempted on a closed queue.
	ErrQueueClosed = errors.New("memory: queue is closed")
	// ErrNotStarted is returned when jobs arrive before Start bound an executor.
	ErrNotStarted = errors.New("memory: queue is not started")
	// ErrCloseTimeout is returned when workers do not drain within CloseTimeout.
	ErrCloseTimeout = errors.New("memory: close timed out")
)

// PanicError wraps a panic raised by a job execution with its stack trace,
// so a panicking command fails the delivery instead of killing the worker.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("memory: panic executing job: %v", e.Value)
}

// Config configures the queue behavior.
type Config struct {
	// Workers is the number of concurrent deliveries per queue name.
	// Default: 4.
	Workers int

	// BufferSize is how many jobs a queue buffers before Enqueue blocks.
	// Default: 64.
	BufferSize int

	// MaxAttempts bounds deliveries of a failing job before it is dropped.
	// Default: 3.
	MaxAttempts int

	// RetryDelay is the fixed pause between delivery attempts.
	// Default: 200ms.
	RetryDelay time.Duration

	// CloseTimeout is the maximum duration to wait for workers to drain.
	// Default: 5 seconds.
	CloseTimeout time.Duration

	// Logger receives delivery failures and lifecycle events.
	// Default: slog.Default.
	Logger *slog.Logger
}

func (c *Config) defaults() Config {
	cfg := *c
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// ConfigFrom maps dispatcher configuration onto queue settings.
func ConfigFrom(cfg dispatch.Config) Config {
	return Config{
		Workers:     cfg.Workers,
		BufferSize:  cfg.BufferSize,
		MaxAttempts: cfg.MaxAttempts,
		RetryDelay:  cfg.RetryDelay,
	}
}

// Queue delivers jobs to an executor with at-least-once semantics. Channels
// and their workers are created lazily per queue name on first enqueue.
// Retries run inline on the delivering worker with a fixed delay.
type Queue struct {
	config   Config
	executor dispatch.Executor

	mu     sync.RWMutex
	queues map[string]chan dispatch.Job
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a stopped queue. Bind an executor with Start before enqueueing.
func New(config Config) *Queue {
	cfg := config.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		config: cfg,
		queues: make(map[string]chan dispatch.Job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start binds the executor that receives deliveries, typically the
// dispatcher. The split from New lets the dispatcher be constructed with the
// queue as its collaborator first.
func (q *Queue) Start(executor dispatch.Executor) error {
	if executor == nil {
		return errors.New("memory: executor is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.executor != nil {
		return errors.New("memory: queue already started")
	}
	q.executor = executor
	return nil
}

// Enqueue buffers the job on its queue, creating the queue and its workers on
// first use. Blocks while the buffer is full until space frees, the caller's
// context ends, or the queue closes.
func (q *Queue) Enqueue(ctx context.Context, job dispatch.Job) error {
	if ctx == nil {
		return errors.New("memory: context is required")
	}

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	if q.executor == nil {
		q.mu.RUnlock()
		return ErrNotStarted
	}
	jobs, ok := q.queues[job.Queue]
	q.mu.RUnlock()

	if !ok {
		jobs = q.getOrCreateQueue(job.Queue)
		if jobs == nil {
			return ErrQueueClosed
		}
	}

	// The read lock is held across the send so Close cannot close the
	// channel underneath a blocked sender.
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.ctx.Done():
		return ErrQueueClosed
	}
}

func (q *Queue) getOrCreateQueue(name string) chan dispatch.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	if jobs, ok := q.queues[name]; ok {
		return jobs
	}

	jobs := make(chan dispatch.Job, q.config.BufferSize)
	q.queues[name] = jobs
	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(name, jobs)
	}
	q.config.Logger.Debug("memory: queue started", "queue", name, "workers", q.config.Workers)
	return jobs
}

func (q *Queue) worker(name string, jobs <-chan dispatch.Job) {
	defer q.wg.Done()
	for job := range jobs {
		q.process(name, job)
	}
}

func (q *Queue) process(name string, job dispatch.Job) {
	for attempt := 1; ; attempt++ {
		err := q.execute(job)
		if err == nil {
			return
		}

		q.config.Logger.Error("memory: delivery failed",
			"queue", name, "command", job.Command, "id", job.ID, "attempt", attempt, "error", err)

		if attempt >= q.config.MaxAttempts {
			q.config.Logger.Error("memory: job dropped",
				"queue", name, "command", job.Command, "id", job.ID, "attempts", attempt)
			return
		}

		select {
		case <-q.ctx.Done():
			return
		case <-time.After(q.config.RetryDelay):
		}
	}
}

func (q *Queue) execute(job dispatch.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return q.executor.Execute(q.ctx, job)
}

// Close stops accepting jobs and waits for workers to drain buffered ones,
// retries included. Returns ErrCloseTimeout when draining exceeds
// CloseTimeout, abandoning whatever is still in flight.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.closed = true
	for _, jobs := range q.queues {
		close(jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-time.After(q.config.CloseTimeout):
		q.cancel()
		return ErrCloseTimeout
	}
}
