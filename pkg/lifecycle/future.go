// Package lifecycle provides extendable events and the futures used to
// extend their lifetime.
package lifecycle

import (
	"context"
	"sync"
)

// Waiter is anything an event can wait on.
type Waiter interface {
	// Wait blocks until the work completes or ctx is done.
	Wait(ctx context.Context) error
}

// WaiterFunc adapts a blocking function to Waiter.
type WaiterFunc func(ctx context.Context) error

// Wait calls f.
func (f WaiterFunc) Wait(ctx context.Context) error { return f(ctx) }

// Future is a value that becomes available once. The zero value is not
// usable; create futures with NewFuture or Async.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// NewFuture returns an unresolved future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future that already holds v and err.
func Resolved[T any](v T, err error) *Future[T] {
	f := NewFuture[T]()
	f.Resolve(v, err)
	return f
}

// Async runs fn on a new goroutine and returns its future.
func Async[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := NewFuture[T]()
	go func() {
		v, err := fn(ctx)
		f.Resolve(v, err)
	}()
	return f
}

// Resolve settles the future. Only the first call has an effect.
func (f *Future[T]) Resolve(v T, err error) {
	f.once.Do(func() {
		f.value = v
		f.err = err
		close(f.done)
	})
}

// Await blocks until the future settles or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Wait implements Waiter.
func (f *Future[T]) Wait(ctx context.Context) error {
	_, err := f.Await(ctx)
	return err
}

// Done is closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Err returns the settled error, or nil while pending.
func (f *Future[T]) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Settled wraps w so that its failure is swallowed. Context errors from the
// caller are still reported.
func Settled(w Waiter) Waiter {
	return WaiterFunc(func(ctx context.Context) error {
		err := w.Wait(ctx)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	})
}
