// Package admission bounds the number of connections handled at once.
package admission

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

type Pool struct {
	sem   *semaphore.Weighted
	size  int64
	inUse atomic.Int64
}

// New creates a pool with n permits. n below 1 is treated as 1.
func New(n int) *Pool {
	if n < 1 {
		n = 1
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(n)),
		size: int64(n),
	}
}

// Acquire blocks until a permit is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Permit, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	p.inUse.Add(1)
	return &Permit{pool: p}, nil
}

// TryAcquire returns a permit without blocking, if one is free.
func (p *Pool) TryAcquire() (*Permit, bool) {
	if !p.sem.TryAcquire(1) {
		return nil, false
	}
	p.inUse.Add(1)
	return &Permit{pool: p}, true
}

func (p *Pool) InUse() int {
	return int(p.inUse.Load())
}

func (p *Pool) Size() int {
	return int(p.size)
}

// Permit is one slot of a Pool.
type Permit struct {
	pool     *Pool
	released atomic.Bool
}

// Release returns the slot to the pool. Only the first call has an effect.
func (p *Permit) Release() {
	if p == nil || !p.released.CompareAndSwap(false, true) {
		return
	}
	p.pool.inUse.Add(-1)
	p.pool.sem.Release(1)
}
