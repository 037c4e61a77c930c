package capture

import (
	"context"

	"github.com/skobkin/camlink/internal/bus"
	"github.com/skobkin/camlink/internal/connectors"
)

// WriteQueue serializes writes coming from bus events.
type WriteQueue interface {
	Enqueue(name string, fn func(context.Context) error)
}

type FrameWriter interface {
	Insert(ctx context.Context, f connectors.RawFrame) error
}

// StartCaptureProjection stores every raw frame published on the bus until
// ctx ends.
func StartCaptureProjection(ctx context.Context, b bus.MessageBus, queue WriteQueue, repo FrameWriter) {
	sub := b.Subscribe(connectors.TopicRawFrameIn, connectors.TopicRawFrameOut)

	go func() {
		defer b.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				frame, ok := raw.(connectors.RawFrame)
				if !ok {
					continue
				}
				queue.Enqueue("insert_frame", func(writeCtx context.Context) error {
					return repo.Insert(writeCtx, frame)
				})
			}
		}
	}()
}
