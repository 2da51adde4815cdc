// Package admission bounds the number of in-flight durable writes. Writers
// that cannot take a permit within the admission window are shed rather than
// queued, so a slow backend never backs up ingest.
package admission

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Gate hands out write permits from a fixed pool.
type Gate struct {
	sem     *semaphore.Weighted
	size    int64
	timeout time.Duration
}

// NewGate sizes the permit pool at maxConcurrent and caps permit acquisition
// at timeout.
func NewGate(maxConcurrent int, timeout time.Duration) *Gate {
	return &Gate{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		size:    int64(maxConcurrent),
		timeout: timeout,
	}
}

// Acquire tries to take a permit within the admission window. A false return
// means the write should be dropped, not retried.
func (g *Gate) Acquire(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	return g.sem.Acquire(ctx, 1) == nil
}

// Release returns a permit taken by Acquire.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Drain blocks until every outstanding permit is released or ctx expires,
// by taking the whole pool. New admissions are held out while it waits.
// It reports whether the gate fully drained.
func (g *Gate) Drain(ctx context.Context) bool {
	if err := g.sem.Acquire(ctx, g.size); err != nil {
		return false
	}
	g.sem.Release(g.size)
	return true
}
