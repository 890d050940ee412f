// Package cpu bounds the parallelism of CPU-heavy work (response parsing,
// keypair generation, signature computation) so it cannot crowd out the
// I/O-bound registration tasks.
package cpu

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool is a bounded executor for CPU-bound functions.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a pool admitting at most size concurrent functions.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Do runs fn once a slot is free. It returns ctx.Err() if the context is
// done before a slot opens, otherwise fn's error.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}
