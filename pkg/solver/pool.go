package solver

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent solver executions. Solving is CPU-bound and
// can hold a process for the full attempt timeout, so it runs behind
// its own bound, separate from the I/O pool serving policy calls.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 4
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

func (p *Pool) Size() int { return p.size }

// Run executes fn once a worker slot is free, releasing it after.
func (p *Pool) Run(ctx context.Context, fn func() (Response, error)) (Response, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return Response{}, err
	}
	defer p.sem.Release(1)
	return fn()
}
