package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maloquacious/goobtool/internal/store"
	"golang.org/x/sync/semaphore"
)

// gate admits at most size concurrent callers to the connection pool.
// It is the explicit backpressure point: a caller waits at most timeout
// (or its own deadline, whichever is sooner) and then fails with ErrTimeout.
type gate struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

func newGate(size int, timeout time.Duration) *gate {
	if size <= 0 {
		size = 1
	}
	return &gate{sem: semaphore.NewWeighted(int64(size)), timeout: timeout}
}

// acquire blocks for a slot and returns the release func.
func (g *gate) acquire(ctx context.Context) (func(), error) {
	wctx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if err := g.sem.Acquire(wctx, 1); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: waiting for a pooled connection: %w", store.ErrTimeout, err)
	}
	return func() { g.sem.Release(1) }, nil
}
