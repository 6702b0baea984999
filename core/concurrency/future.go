package concurrency

import (
	"context"
	"fmt"
	"time"
)

// Future is the eventual result of a unit of work started with Spawn or
// SpawnScoped.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) settle(v T, err error) {
	f.value, f.err = v, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the result is available or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Spawn runs fn on g as a continuation of the unit of work owning ctx.
func Spawn[T any](ctx context.Context, g *Group, description string, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	if err := g.Go(ctx, description, 0, f.run(fn)); err != nil {
		var zero T
		f.settle(zero, err)
	}
	return f
}

// SpawnScoped runs fn on g in a scope declared at the time of the call.
func SpawnScoped[T any](ctx context.Context, g *Group, description string, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	if err := g.GoScoped(ctx, description, 0, f.run(fn)); err != nil {
		var zero T
		f.settle(zero, err)
	}
	return f
}

// run settles f with fn's outcome. A panic settles f with an error and is
// re-raised for the group to recover.
func (f *Future[T]) run(fn func(ctx context.Context) (T, error)) WorkFunc {
	return func(ctx context.Context) error {
		settled := false
		defer func() {
			if settled {
				return
			}
			if r := recover(); r != nil {
				var zero T
				f.settle(zero, fmt.Errorf("panic: %v", r))
				panic(r)
			}
		}()
		v, err := fn(ctx)
		settled = true
		f.settle(v, err)
		return err
	}
}

// Sleep suspends the caller for d, waking early when ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
