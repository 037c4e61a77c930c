package eventloop

import (
	"context"
	"sync"
)

// Future is the caller-side handle of a submitted task.
type Future[T any] struct {
	done   chan struct{}
	once   sync.Once
	cancel context.CancelFunc

	value T
	err   error
}

// Submit schedules fn on the loop. The context passed to fn is cancelled by
// Future.Cancel, Loop.CancelPending, or when fn returns.
func Submit[T any](l *Loop, name string, fn func(ctx context.Context) (T, error)) *Future[T] {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Future[T]{
		done:   make(chan struct{}),
		cancel: cancel,
	}

	l.enqueue(&job{
		name:   name,
		ctx:    ctx,
		cancel: cancel,
		run: func(ctx context.Context) {
			v, err := fn(ctx)
			f.resolve(v, err)
		},
		abort: func(err error) {
			var zero T
			f.resolve(zero, err)
		},
	})

	return f
}

// Await blocks until the task completes or ctx ends. An expired ctx does not
// cancel the task; call Cancel for that.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel cancels the task context.
func (f *Future[T]) Cancel() {
	f.cancel()
}

// Done is closed once the task has a result.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

func (f *Future[T]) resolve(v T, err error) {
	f.once.Do(func() {
		f.value = v
		f.err = err
		close(f.done)
	})
}
