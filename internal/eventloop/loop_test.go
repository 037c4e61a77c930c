package eventloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSubmitRunsTasksInOrderOnOneGoroutine(t *testing.T) {
	l := New(nil, "test")
	l.Start()
	defer func() {
		l.Stop()
		l.Join(time.Second)
	}()

	var (
		mu      sync.Mutex
		order   []int
		running int
		overlap bool
	)
	futures := make([]*Future[int], 0, 5)
	for i := 0; i < 5; i++ {
		i := i
		futures = append(futures, Submit(l, "step", func(context.Context) (int, error) {
			mu.Lock()
			running++
			if running > 1 {
				overlap = true
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			order = append(order, i)
			running--
			mu.Unlock()
			return i * 10, nil
		}))
	}

	for i, f := range futures {
		got, err := f.Await(context.Background())
		if err != nil {
			t.Fatalf("task %d: unexpected error: %v", i, err)
		}
		if got != i*10 {
			t.Fatalf("task %d: expected %d, got %d", i, i*10, got)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Fatalf("tasks must not run concurrently")
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("unexpected execution order: %v", order)
		}
	}
}

func TestAwaitTimeoutDoesNotCancelTask(t *testing.T) {
	l := New(nil, "test")
	l.Start()
	defer func() {
		l.Stop()
		l.Join(time.Second)
	}()

	release := make(chan struct{})
	f := Submit(l, "slow", func(ctx context.Context) (bool, error) {
		select {
		case <-release:
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	close(release)
	got, err := f.Await(context.Background())
	if err != nil || !got {
		t.Fatalf("expected abandoned task to finish normally, got %v, %v", got, err)
	}
}

func TestCancelPendingCancelsRunningAndQueuedTasks(t *testing.T) {
	l := New(nil, "test")
	l.Start()
	defer func() {
		l.Stop()
		l.Join(time.Second)
	}()

	started := make(chan struct{})
	running := Submit(l, "blocking", func(ctx context.Context) (struct{}, error) {
		close(started)
		<-ctx.Done()
		return struct{}{}, ctx.Err()
	})
	<-started

	queuedRan := false
	queued := Submit(l, "queued", func(context.Context) (struct{}, error) {
		queuedRan = true
		return struct{}{}, nil
	})

	if got := l.Pending(); got != 2 {
		t.Fatalf("expected 2 pending tasks, got %d", got)
	}
	if got := l.CancelPending(); got != 2 {
		t.Fatalf("expected 2 cancelled tasks, got %d", got)
	}
	if got := l.Pending(); got != 0 {
		t.Fatalf("expected empty pending set, got %d", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := running.Await(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected running task to be cancelled, got %v", err)
	}
	if _, err := queued.Await(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected queued task to be cancelled, got %v", err)
	}
	if queuedRan {
		t.Fatalf("cancelled queued task must not run")
	}
}

func TestSubmitAfterStopFailsFast(t *testing.T) {
	l := New(nil, "test")
	l.Start()
	l.Stop()
	if !l.Join(time.Second) {
		t.Fatalf("loop did not exit")
	}
	if l.Running() {
		t.Fatalf("expected loop to report not running")
	}

	f := Submit(l, "late", func(context.Context) (int, error) {
		return 1, nil
	})
	select {
	case <-f.Done():
	default:
		t.Fatalf("expected future to be resolved immediately")
	}
	if _, err := f.Await(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestStopWithoutStartReleasesJoin(t *testing.T) {
	l := New(nil, "test")
	queued := Submit(l, "never-started", func(context.Context) (int, error) {
		return 1, nil
	})
	l.Stop()
	l.Stop()

	if !l.Join(100 * time.Millisecond) {
		t.Fatalf("join must return for a never-started loop")
	}
	if _, err := queued.Await(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected queued task to fail with ErrStopped, got %v", err)
	}
}

func TestJoinTimesOutWhileTaskIgnoresCancellation(t *testing.T) {
	l := New(nil, "test")
	l.Start()

	release := make(chan struct{})
	started := make(chan struct{})
	_ = Submit(l, "stubborn", func(context.Context) (int, error) {
		close(started)
		<-release
		return 0, nil
	})
	<-started

	l.Stop()
	begin := time.Now()
	if l.Join(50 * time.Millisecond) {
		t.Fatalf("expected join to time out")
	}
	if elapsed := time.Since(begin); elapsed > time.Second {
		t.Fatalf("join exceeded its bound: %s", elapsed)
	}

	close(release)
	if !l.Join(time.Second) {
		t.Fatalf("loop did not exit after task returned")
	}
}

func TestPanickingTaskBecomesError(t *testing.T) {
	l := New(nil, "test")
	l.Start()
	defer func() {
		l.Stop()
		l.Join(time.Second)
	}()

	f := Submit(l, "boom", func(context.Context) (int, error) {
		panic("boom")
	})
	if _, err := f.Await(context.Background()); err == nil {
		t.Fatalf("expected panic to surface as error")
	}

	next := Submit(l, "after", func(context.Context) (int, error) {
		return 7, nil
	})
	if got, err := next.Await(context.Background()); err != nil || got != 7 {
		t.Fatalf("loop must keep running after a panic, got %v, %v", got, err)
	}
}

func TestSubmitDoesNotBlockWhenQueueIsFull(t *testing.T) {
	l := New(nil, "test")
	l.Start()

	release := make(chan struct{})
	started := make(chan struct{})
	_ = Submit(l, "stalled", func(context.Context) (int, error) {
		close(started)
		<-release
		return 0, nil
	})
	<-started

	const submitters = defaultQueueSize + 16
	futures := make([]*Future[int], submitters)
	var wg sync.WaitGroup
	begin := time.Now()
	for i := range submitters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			futures[i] = Submit(l, "queued", func(context.Context) (int, error) {
				return i, nil
			})
		}()
	}

	submitted := make(chan struct{})
	go func() {
		wg.Wait()
		close(submitted)
	}()
	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatalf("submit blocked on a full queue")
	}
	if elapsed := time.Since(begin); elapsed > time.Second {
		t.Fatalf("submitting took %s", elapsed)
	}

	rejected := 0
	for _, f := range futures {
		select {
		case <-f.Done():
			if _, err := f.Await(context.Background()); errors.Is(err, ErrQueueFull) {
				rejected++
			}
		default:
		}
	}
	if rejected != submitters-defaultQueueSize {
		t.Fatalf("expected %d rejected tasks, got %d", submitters-defaultQueueSize, rejected)
	}
	if got := l.Pending(); got != defaultQueueSize+1 {
		t.Fatalf("rejected tasks must leave the pending set, got %d pending", got)
	}

	stopped := make(chan struct{})
	go func() {
		l.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("stop blocked behind submitters")
	}

	close(release)
	if !l.Join(time.Second) {
		t.Fatalf("loop did not exit after the stalled task returned")
	}
	for _, f := range futures {
		if _, err := f.Await(context.Background()); err == nil {
			t.Fatalf("queued task must not run after stop")
		}
	}
}
