package bus

import (
	"testing"
	"time"
)

func TestSubscribeReceivesFromEveryTopic(t *testing.T) {
	b := New(nil)
	defer b.Close()

	sub := b.Subscribe("a", "b")
	b.Publish("a", 1)
	b.Publish("b", "two")
	b.Publish("c", 3.0)

	got := []any{receive(t, sub), receive(t, sub)}
	if got[0] != 1 || got[1] != "two" {
		t.Fatalf("unexpected messages %v", got)
	}

	select {
	case msg := <-sub:
		t.Fatalf("unexpected message from unsubscribed topic: %v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(nil)
	defer b.Close()

	sub := b.Subscribe("a")
	b.Unsubscribe(sub)

	select {
	case _, ok := <-sub:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel was not closed")
	}
}

func TestPayloadType(t *testing.T) {
	if got := payloadType(nil); got != "<nil>" {
		t.Fatalf("unexpected nil payload type %q", got)
	}
	if got := payloadType([]byte{}); got != "[]uint8" {
		t.Fatalf("unexpected payload type %q", got)
	}
}

func receive(t *testing.T, sub Subscription) any {
	t.Helper()

	select {
	case msg := <-sub:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message")
	}
	return nil
}
