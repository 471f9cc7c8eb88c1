// Package gate serializes the inspect-then-dequeue step shared by collector workers.
package gate

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/channel-monitor/internal/monitor"
)

// Gate is a single-permit critical section with a bounded wait.
type Gate struct {
	sem *semaphore.Weighted
}

// New creates an open gate.
func New() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// Do runs fn while holding the gate. Waiting longer than timeout for the permit is reported
// as monitor.ErrQueueEmpty so callers count it like an empty dequeue. The permit is released
// on every return path.
func (g *Gate) Do(ctx context.Context, timeout time.Duration, fn func() error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := g.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("admission gate: %w", ctx.Err())
		}
		return fmt.Errorf("admission gate: %w", monitor.ErrQueueEmpty)
	}
	defer g.sem.Release(1)
	return fn()
}
