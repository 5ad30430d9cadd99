// Package executor provides the bounded worker pool shared by index work.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned when work is submitted after Shutdown.
var ErrPoolClosed = errors.New("executor: pool is closed")

// Pool bounds the number of concurrently running tasks across all batches.
type Pool struct {
	workers int
	sem     *semaphore.Weighted

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewPool creates a pool running at most workers tasks at once.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		workers: workers,
		sem:     semaphore.NewWeighted(int64(workers)),
	}
}

// Workers returns the concurrency limit.
func (p *Pool) Workers() int {
	return p.workers
}

// Batch is a group of tasks whose errors are collected together.
// The first failing task cancels the batch context. Do not call Go from
// inside a task of the same batch.
type Batch struct {
	pool  *Pool
	group *errgroup.Group
	ctx   context.Context
}

// NewBatch starts a batch bound to ctx.
func (p *Pool) NewBatch(ctx context.Context) (*Batch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	return &Batch{pool: p, group: g, ctx: gctx}, nil
}

// Go schedules fn on the pool. It blocks while the batch already has
// Workers tasks running, so a batch never holds more goroutines than that.
func (b *Batch) Go(fn func(ctx context.Context) error) {
	if !b.pool.track() {
		b.group.Go(func() error { return ErrPoolClosed })
		return
	}

	b.group.Go(func() error {
		defer b.pool.inflight.Done()
		if err := b.pool.sem.Acquire(b.ctx, 1); err != nil {
			return err
		}
		defer b.pool.sem.Release(1)
		return runSafely(b.ctx, fn)
	})
}

// Wait blocks until every task in the batch finished and returns the first error.
func (b *Batch) Wait() error {
	return b.group.Wait()
}

// Submit runs fn in the background. Failures are logged, not returned.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if !p.track() {
		return ErrPoolClosed
	}

	go func() {
		defer p.inflight.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		if err := runSafely(ctx, fn); err != nil {
			slog.Warn("executor_task_failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Shutdown rejects new work and waits for in-flight tasks.
// Safe to call multiple times.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.inflight.Wait()
	return nil
}

// track registers one in-flight task unless the pool is closed.
func (p *Pool) track() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.inflight.Add(1)
	return true
}

func runSafely(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor: task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
