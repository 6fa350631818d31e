// Package services contains core business logic
// Following Hexagonal Architecture: Services orchestrate domain logic using ports
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// TaskError is reported on the runner's error channel when a background task
// fails or panics
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("background task %s: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

type backgroundTask struct {
	name string
	fn   func(ctx context.Context) error
}

// BackgroundRunner executes fire-and-forget side effects (turn logging,
// realtime broadcast) on a bounded worker pool. Task failures never reach the
// submitter; they are sent to Errors() and, when that buffer is full, logged.
type BackgroundRunner struct {
	tasks   chan backgroundTask
	errs    chan error
	pending sync.WaitGroup
	workers sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewBackgroundRunner starts workers goroutines draining a queue of queueSize tasks
func NewBackgroundRunner(workers, queueSize int) *BackgroundRunner {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	b := &BackgroundRunner{
		tasks: make(chan backgroundTask, queueSize),
		errs:  make(chan error, queueSize),
	}
	for i := 0; i < workers; i++ {
		b.workers.Add(1)
		go b.work()
	}
	return b
}

// Submit enqueues fn without blocking. It returns false when the runner is
// closed or its queue is full; the task is dropped in that case.
func (b *BackgroundRunner) Submit(name string, fn func(ctx context.Context) error) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		slog.Warn("Background task dropped, runner closed", "task", name)
		return false
	}

	b.pending.Add(1)
	select {
	case b.tasks <- backgroundTask{name: name, fn: fn}:
		return true
	default:
		b.pending.Done()
		slog.Warn("Background task dropped, queue full", "task", name)
		return false
	}
}

// Errors exposes task failures
func (b *BackgroundRunner) Errors() <-chan error {
	return b.errs
}

// LogErrors reports task failures to slog until ctx is done
func (b *BackgroundRunner) LogErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-b.errs:
			if !ok {
				return
			}
			slog.Error("Background task failed", "error", err)
		}
	}
}

// Flush blocks until every submitted task has finished
func (b *BackgroundRunner) Flush() {
	b.pending.Wait()
}

// Close stops accepting tasks, drains the queue and waits for the workers
func (b *BackgroundRunner) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.tasks)
	b.mu.Unlock()

	b.workers.Wait()
}

func (b *BackgroundRunner) work() {
	defer b.workers.Done()
	for task := range b.tasks {
		b.run(task)
	}
}

func (b *BackgroundRunner) run(task backgroundTask) {
	defer b.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in background task",
				"panic", r,
				"task", task.name,
			)
			b.report(&TaskError{Task: task.name, Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	// detached from the request: the caller has already returned
	if err := task.fn(context.Background()); err != nil {
		b.report(&TaskError{Task: task.name, Err: err})
	}
}

func (b *BackgroundRunner) report(err error) {
	select {
	case b.errs <- err:
	default:
		slog.Error("Background task failed", "error", err)
	}
}
