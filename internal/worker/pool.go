// Package worker runs storage-bound work off the caller's goroutine and
// hands back an awaitable result.
package worker

import (
	"context"
	"fmt"

	"github.com/panjf2000/ants/v2"
)

type Pool struct {
	pool *ants.Pool
}

func NewPool(size int) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p, err := ants.NewPool(size, ants.WithPreAlloc(false))
	if err != nil {
		return nil, err
	}
	return &Pool{pool: p}, nil
}

func (p *Pool) Running() int {
	return p.pool.Running()
}

func (p *Pool) Cap() int {
	return p.pool.Cap()
}

func (p *Pool) Close() error {
	p.pool.Release()
	return nil
}

type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func (f *Future[T]) resolve(value T, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Await blocks until the task finishes or ctx is done. A ctx timeout only
// stops the wait; the task itself keeps running.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Go submits fn to the pool. If the pool rejects the task the future
// resolves immediately with the submission error. A nil pool runs fn on the
// calling goroutine.
func Go[T any](p *Pool, ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	if p == nil {
		run(f, ctx, fn)
		return f
	}
	err := p.pool.Submit(func() { run(f, ctx, fn) })
	if err != nil {
		var zero T
		f.resolve(zero, fmt.Errorf("submit task: %w", err))
	}
	return f
}

func run[T any](f *Future[T], ctx context.Context, fn func(context.Context) (T, error)) {
	var (
		value T
		err   error
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker task panicked: %v", r)
		}
		f.resolve(value, err)
	}()
	value, err = fn(ctx)
}
