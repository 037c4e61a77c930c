// Package eventloop runs blocking work on one dedicated goroutine and hands
// results back to callers through futures.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultQueueSize = 64

var (
	// ErrStopped is returned for tasks submitted to, or still queued on, a stopped loop.
	ErrStopped = errors.New("event loop is stopped")
	// ErrQueueFull is returned for tasks submitted while the queue has no room.
	ErrQueueFull = errors.New("event loop queue is full")
)

type job struct {
	id     uint64
	name   string
	ctx    context.Context
	cancel context.CancelFunc
	run    func(ctx context.Context)
	abort  func(err error)
}

// Loop executes submitted tasks one at a time, in submission order, on a
// single goroutine it owns. Every queued or running task is tracked in the
// pending set until it completes or is cancelled.
type Loop struct {
	name   string
	logger *slog.Logger

	queue chan *job
	quit  chan struct{}
	done  chan struct{}

	// sendMu orders queue sends against Stop so no job lands in the queue
	// after it has been drained. Queue sends never block while it is held.
	sendMu sync.RWMutex

	mu       sync.Mutex
	pending  map[uint64]*job
	nextID   uint64
	started  bool
	stopped  bool
	stopOnce sync.Once
}

func New(logger *slog.Logger, name string) *Loop {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Loop{
		name:    name,
		logger:  logger.With("component", "eventloop", "loop", name),
		queue:   make(chan *job, defaultQueueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		pending: make(map[uint64]*job),
	}
}

// Start launches the loop goroutine. Calling it more than once is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.stopped {
		return
	}
	l.started = true
	go l.run()
	l.logger.Debug("started")
}

// Running reports whether the loop goroutine was started and has not exited.
func (l *Loop) Running() bool {
	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if !started {
		return false
	}

	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// Pending returns the number of tracked tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.pending)
}

// CancelPending cancels the context of every tracked task and empties the
// pending set. Cancellation is observed by a task at its next context check.
func (l *Loop) CancelPending() int {
	l.mu.Lock()
	jobs := make([]*job, 0, len(l.pending))
	for id, j := range l.pending {
		jobs = append(jobs, j)
		delete(l.pending, id)
	}
	l.mu.Unlock()

	for _, j := range jobs {
		j.cancel()
	}
	if len(jobs) > 0 {
		l.logger.Debug("cancelled pending tasks", "count", len(jobs))
	}

	return len(jobs)
}

// Stop asks the loop goroutine to exit after the task it is currently running.
// Tasks still queued are completed with ErrStopped.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.sendMu.Lock()
		l.mu.Lock()
		l.stopped = true
		started := l.started
		l.mu.Unlock()
		close(l.quit)
		l.sendMu.Unlock()

		if !started {
			l.drain()
			close(l.done)
		}
		l.logger.Debug("stop requested")
	})
}

// Join waits for the loop goroutine to exit. It returns false when the
// timeout elapses first. A non-positive timeout waits without bound.
func (l *Loop) Join(timeout time.Duration) bool {
	if timeout <= 0 {
		<-l.done
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-l.done:
		return true
	case <-timer.C:
		l.logger.Warn("join timed out", "timeout", timeout)
		return false
	}
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.quit:
			l.drain()
			l.logger.Debug("stopped")
			return
		default:
		}

		select {
		case <-l.quit:
			l.drain()
			l.logger.Debug("stopped")
			return
		case j := <-l.queue:
			l.execute(j)
		}
	}
}

func (l *Loop) drain() {
	for {
		select {
		case j := <-l.queue:
			l.forget(j)
			j.cancel()
			j.abort(ErrStopped)
		default:
			return
		}
	}
}

func (l *Loop) execute(j *job) {
	defer l.forget(j)
	defer j.cancel()

	if err := j.ctx.Err(); err != nil {
		l.logger.Debug("task skipped", "task", j.name, "error", err)
		j.abort(err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task panicked", "task", j.name, "panic", r)
			j.abort(fmt.Errorf("task %s panicked: %v", j.name, r))
		}
	}()

	l.logger.Debug("task started", "task", j.name)
	j.run(j.ctx)
	l.logger.Debug("task finished", "task", j.name)
}

func (l *Loop) enqueue(j *job) {
	l.sendMu.RLock()
	defer l.sendMu.RUnlock()

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		j.cancel()
		j.abort(ErrStopped)
		return
	}
	l.nextID++
	j.id = l.nextID
	l.pending[j.id] = j
	l.mu.Unlock()

	select {
	case l.queue <- j:
	default:
		l.forget(j)
		j.cancel()
		j.abort(ErrQueueFull)
		l.logger.Warn("task rejected: queue is full", "task", j.name, "capacity", cap(l.queue))
	}
}

func (l *Loop) forget(j *job) {
	l.mu.Lock()
	delete(l.pending, j.id)
	l.mu.Unlock()
}
