// Package concurrency holds the small helpers shared by code that fans work
// out across goroutines.
package concurrency

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// NewPool returns a pool of at most maxGoroutines tasks, each respecting
// context cancellation. Wait returns the first error seen and cancels the
// remaining tasks.
func NewPool(ctx context.Context, maxGoroutines int) *pool.ContextPool {
	return pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(maxGoroutines)
}

// TrySendThroughChannel sends msg on channel unless the context is done
// first, and reports whether the send happened. Senders that hold no lock can
// use it to avoid blocking forever on a receiver that has gone away.
func TrySendThroughChannel[T any](ctx context.Context, msg T, channel chan<- T) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case channel <- msg:
		return true
	}
}
