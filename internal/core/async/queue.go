// Package async provides the bounded worker pool that decouples upload
// requests from pipeline execution.
package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueFull is returned when the submission buffer is at capacity.
// Callers surface it instead of blocking the upload request.
var ErrQueueFull = errors.New("processing queue is full")

// Task is one unit of pipeline work. The context carries the per-task
// timeout; tasks must honor cancellation.
type Task func(ctx context.Context)

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.size = n
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.processTimeout = d
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(q *Queue) {
		if log != nil {
			q.log = log
		}
	}
}

// Queue is a fixed-size worker pool over a buffered channel. Submissions
// never block; a full buffer rejects with ErrQueueFull.
type Queue struct {
	workers        int
	size           int
	processTimeout time.Duration
	log            *slog.Logger

	tasks chan Task
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		workers:        4,
		size:           256,
		processTimeout: 10 * time.Minute,
		log:            slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.tasks = make(chan Task, q.size)
	return q
}

// Start launches the workers. The base context bounds the whole pool; each
// task additionally gets the per-task timeout.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.log.Info("queue.started", "workers", q.workers, "capacity", q.size)
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for task := range q.tasks {
		if ctx.Err() != nil {
			return
		}
		q.runOne(ctx, id, task)
	}
}

func (q *Queue) runOne(ctx context.Context, id int, task Task) {
	taskCtx, cancel := context.WithTimeout(ctx, q.processTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("queue.task.panic", "worker", id, "panic", r)
		}
	}()
	task(taskCtx)
}

// Submit enqueues a task without blocking.
func (q *Queue) Submit(task Task) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return errors.New("processing queue is stopped")
	}
	q.mu.Unlock()

	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop closes the intake and waits for in-flight tasks to drain.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	close(q.tasks)
	q.wg.Wait()
	q.log.Info("queue.stopped")
}
