package capture

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultQueueCapacity = 256
	maxWriteAttempts     = 3
	defaultRetryStep     = 300 * time.Millisecond
)

type writeCmd struct {
	name string
	fn   func(context.Context) error
}

// WriterQueue runs database writes one at a time off the caller's goroutine.
type WriterQueue struct {
	logger    *slog.Logger
	queue     chan writeCmd
	retryStep time.Duration
}

func NewWriterQueue(logger *slog.Logger, capacity int) *WriterQueue {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &WriterQueue{
		logger:    logger,
		queue:     make(chan writeCmd, capacity),
		retryStep: defaultRetryStep,
	}
}

// Enqueue never blocks; when the queue is full the command is handed off to
// a goroutine that waits for room.
func (w *WriterQueue) Enqueue(name string, fn func(context.Context) error) {
	cmd := writeCmd{name: name, fn: fn}
	select {
	case w.queue <- cmd:
	default:
		w.logger.Warn("capture queue is full", "cmd", name)
		go func() { w.queue <- cmd }()
	}
}

func (w *WriterQueue) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cmd := <-w.queue:
				w.runWithRetry(ctx, cmd)
			}
		}
	}()
}

func (w *WriterQueue) runWithRetry(ctx context.Context, cmd writeCmd) bool {
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		err := cmd.fn(ctx)
		if err == nil {
			return true
		}
		w.logger.Error("capture write failed", "cmd", cmd.name, "attempt", attempt, "error", err)
		if attempt == maxWriteAttempts {
			return false
		}

		timer := time.NewTimer(time.Duration(attempt) * w.retryStep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
	return false
}
