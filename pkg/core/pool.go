package core

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
)

// ConnPool bounds the number of backend operations in flight. A checkout
// blocks while the pool is exhausted and fails with ErrPoolTimeout once
// AcquireTimeout has elapsed.
type ConnPool struct {
	sem     *semaphore.Weighted
	size    int64
	timeout time.Duration
}

// NewConnPool creates a pool sized by cfg.MaxOpen
func NewConnPool(cfg PoolConfig) *ConnPool {
	size := int64(cfg.MaxOpen)
	if size <= 0 {
		size = int64(DefaultPoolConfig().MaxOpen)
	}
	timeout := cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = DefaultPoolConfig().AcquireTimeout
	}
	return &ConnPool{
		sem:     semaphore.NewWeighted(size),
		size:    size,
		timeout: timeout,
	}
}

// Checkout reserves a connection slot. The returned release func must be
// called exactly once.
func (p *ConnPool) Checkout(ctx context.Context) (func(), error) {
	if p.sem.TryAcquire(1) {
		return p.release, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		// A caller-side cancellation is reported as such
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrPoolTimeout
		}
		return nil, err
	}
	return p.release, nil
}

// Size returns the maximum number of concurrent checkouts
func (p *ConnPool) Size() int {
	return int(p.size)
}

func (p *ConnPool) release() {
	p.sem.Release(1)
}
