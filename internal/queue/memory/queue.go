// Package memory provides the in-process queues connecting the orchestrator, the workers and
// the persistence writer.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/channel-monitor/internal/monitor"
)

// Queue is a bounded FIFO with context-aware and timeout-bounded operations. The item
// channel is never closed; Close signals through done so blocked producers are released.
type Queue[T any] struct {
	ch        chan T
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes an item into the queue or returns if the context ends or the queue is
// closed while waiting for space.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	select {
	case <-q.done:
		return monitor.ErrQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return monitor.ErrQueueClosed
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item := <-q.ch:
		return item, nil
	case <-q.done:
		return q.drainOne()
	}
}

// DequeueTimeout pops the next item, waiting at most timeout. It returns
// monitor.ErrQueueEmpty when nothing arrived in time.
func (q *Queue[T]) DequeueTimeout(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-timer.C:
		return zero, monitor.ErrQueueEmpty
	case item := <-q.ch:
		return item, nil
	case <-q.done:
		return q.drainOne()
	}
}

// drainOne returns a left-over item of a closed queue, or ErrQueueClosed once it is empty.
func (q *Queue[T]) drainOne() (T, error) {
	select {
	case item := <-q.ch:
		return item, nil
	default:
		var zero T
		return zero, monitor.ErrQueueClosed
	}
}

// Len reports the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Close stops accepting items. Queued items can still be dequeued, and producers blocked
// on a full queue return monitor.ErrQueueClosed.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}
