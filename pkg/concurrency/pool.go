// Package concurrency runs listener callbacks off the goroutine serving a
// connection, with a bound on how many may run at once.
package concurrency

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"
)

// DefaultLimit is the number of callbacks allowed to run at once.
const DefaultLimit = 64

// PanicError is returned by Call when the task panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Pool is a bounded set of worker goroutines.
type Pool struct {
	sem   *semaphore.Weighted
	limit int64
}

// NewPool creates a pool running at most limit tasks concurrently.
func NewPool(limit int) *Pool {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit)), limit: int64(limit)}
}

// acquire takes a worker slot, logging when every worker is busy since a
// saturated pool stalls every caller until a task returns.
func (p *Pool) acquire(ctx context.Context) error {
	if p.sem.TryAcquire(1) {
		return nil
	}
	slog.Warn("All callback workers busy, waiting for a free one", "limit", p.limit)
	return p.sem.Acquire(ctx, 1)
}

// Go schedules task and returns without waiting for it.
// It only blocks while every worker is busy, and gives up when ctx is done.
func (p *Pool) Go(ctx context.Context, task func()) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Pool task panicked", "panic", r)
			}
		}()
		task()
	}()
	return nil
}

// Wait blocks until every running task has returned or ctx is done. Tasks
// scheduled while Wait is blocked queue behind it.
func (p *Pool) Wait(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, p.limit); err != nil {
		return err
	}
	p.sem.Release(p.limit)
	return nil
}

type result[T any] struct {
	value T
	err   error
}

// Call runs fn on a pool worker and suspends the caller until fn returns or
// ctx is done. When ctx ends first the worker keeps running to completion
// and its result is dropped.
func Call[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	done := make(chan result[T], 1)

	if err := p.acquire(ctx); err != nil {
		return zero, err
	}
	go func() {
		defer p.sem.Release(1)
		var res result[T]
		defer func() {
			if r := recover(); r != nil {
				res = result[T]{err: &PanicError{Value: r}}
			}
			done <- res
		}()
		res.value, res.err = fn(ctx)
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
