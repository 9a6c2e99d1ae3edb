package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueStopped is returned by Submit once the queue's workers have exited
	ErrQueueStopped = errors.New("queue stopped")
	// ErrQueueFull is returned by TrySubmit when the buffer has no free slot
	ErrQueueFull = errors.New("queue full")
)

// Dispatcher hands a scan to asynchronous recognition
type Dispatcher interface {
	// Submit waits for buffer space until ctx is done
	Submit(ctx context.Context, scanID string) error
	// TrySubmit never waits
	TrySubmit(scanID string) error
}

// Handler processes one queued scan
type Handler func(ctx context.Context, scanID string) error

// Queue is a bounded in-process work queue drained by a fixed set of
// workers. A scan already waiting in the buffer is not queued twice.
// Submitted scans that were not picked up before shutdown stay UPLOADED and
// are re-queued by Service.Run.
type Queue struct {
	workers int
	jobs    chan string
	handle  Handler

	mu      sync.Mutex
	waiting map[string]struct{}

	done     chan struct{}
	stopOnce sync.Once
}

// NewQueue creates a queue with the given worker count and buffer size
func NewQueue(workers, size int, handle Handler) *Queue {
	if workers < 1 {
		workers = 1
	}
	if size < 0 {
		size = 0
	}
	return &Queue{
		workers: workers,
		jobs:    make(chan string, size),
		handle:  handle,
		waiting: make(map[string]struct{}),
		done:    make(chan struct{}),
	}
}

// Submit enqueues a scan, blocking while the buffer is full
func (q *Queue) Submit(ctx context.Context, scanID string) error {
	if !q.claim(scanID) {
		return nil
	}
	select {
	case <-q.done:
		q.release(scanID)
		return fmt.Errorf("submitting scan %s: %w", scanID, ErrQueueStopped)
	default:
	}

	select {
	case q.jobs <- scanID:
		return nil
	case <-q.done:
		q.release(scanID)
		return fmt.Errorf("submitting scan %s: %w", scanID, ErrQueueStopped)
	case <-ctx.Done():
		q.release(scanID)
		return fmt.Errorf("submitting scan %s: %w", scanID, ctx.Err())
	}
}

// TrySubmit enqueues a scan if the buffer has room
func (q *Queue) TrySubmit(scanID string) error {
	if !q.claim(scanID) {
		return nil
	}
	select {
	case <-q.done:
		q.release(scanID)
		return fmt.Errorf("submitting scan %s: %w", scanID, ErrQueueStopped)
	default:
	}

	select {
	case q.jobs <- scanID:
		return nil
	default:
		q.release(scanID)
		return fmt.Errorf("submitting scan %s: %w", scanID, ErrQueueFull)
	}
}

// claim marks scanID as waiting; false means it already is
func (q *Queue) claim(scanID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.waiting[scanID]; ok {
		return false
	}
	q.waiting[scanID] = struct{}{}
	return true
}

func (q *Queue) release(scanID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.waiting, scanID)
}

// Len returns the number of scans waiting for a worker
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Run starts the workers and blocks until ctx is cancelled
func (q *Queue) Run(ctx context.Context) error {
	defer q.stopOnce.Do(func() { close(q.done) })

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		worker := i
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case scanID := <-q.jobs:
					q.release(scanID)
					if err := q.handle(ctx, scanID); err != nil {
						slog.Error("Failed to process scan", "scan_id", scanID, "worker", worker, "error", err)
					}
				}
			}
		})
	}
	return g.Wait()
}
