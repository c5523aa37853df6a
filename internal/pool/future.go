package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPanic wraps the value recovered from a panicking stage.
var ErrPanic = errors.New("pool: stage panicked")

// Future is the eventual result of an asynchronous computation.
type Future[T any] struct {
	done chan struct{}

	mu        sync.Mutex
	completed bool
	callbacks []func()

	val T
	err error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns a future that already holds v and err.
func Completed[T any](v T, err error) *Future[T] {
	f := newFuture[T]()
	f.complete(v, err)
	return f
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the result is available or ctx ends, in which case
// ctx.Err() is returned and the computation keeps running.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (f *Future[T]) complete(v T, err error) {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return
	}
	f.val, f.err = v, err
	f.completed = true
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// onComplete runs cb on the completing goroutine, or immediately when the
// future is already done.
func (f *Future[T]) onComplete(cb func()) {
	f.mu.Lock()
	if !f.completed {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	cb()
}

// Async runs fn on p. If p is closed the future fails with ErrPoolClosed.
func Async[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	err := p.Submit(func() {
		f.complete(call(func() (T, error) { return fn(ctx) }))
	})
	if err != nil {
		var zero T
		f.complete(zero, err)
	}
	return f
}

// Then applies fn to the result of f on the goroutine that completes f.
// fn must be cheap and must not block. Errors from f skip fn.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	out := newFuture[U]()
	f.onComplete(func() {
		if f.err != nil {
			var zero U
			out.complete(zero, f.err)
			return
		}
		out.complete(call(func() (U, error) { return fn(f.val) }))
	})
	return out
}

// Compose submits fn to p once f succeeds, so a second blocking call does
// not occupy the goroutine that finished the first. Errors from f skip fn.
func Compose[T, U any](ctx context.Context, p *Pool, f *Future[T], fn func(context.Context, T) (U, error)) *Future[U] {
	out := newFuture[U]()
	f.onComplete(func() {
		if f.err != nil {
			var zero U
			out.complete(zero, f.err)
			return
		}
		v := f.val
		inner := Async(ctx, p, func(ctx context.Context) (U, error) { return fn(ctx, v) })
		inner.onComplete(func() { out.complete(inner.val, inner.err) })
	})
	return out
}

// AwaitAll waits for every future in order and returns their results and
// errors index-aligned with fs.
func AwaitAll[T any](ctx context.Context, fs []*Future[T]) ([]T, []error) {
	vals := make([]T, len(fs))
	errs := make([]error, len(fs))
	for i, f := range fs {
		vals[i], errs[i] = f.Await(ctx)
	}
	return vals, errs
}

func call[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, err = zero, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn()
}
