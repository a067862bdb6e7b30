package bus

import (
	"context"
	"testing"
	"time"
)

func TestEventBus_PublishConsume(t *testing.T) {
	eb := NewEventBus()
	defer eb.Close()

	ctx := context.Background()
	if err := eb.Publish(ctx, Event{Kind: EventConnectionChanged, Status: "connected"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ev, ok := eb.Consume(ctx)
	if !ok {
		t.Fatal("consume: bus reported closed")
	}
	if ev.Kind != EventConnectionChanged || ev.Status != "connected" {
		t.Errorf("event: got %+v", ev)
	}
}

func TestEventBus_PreservesOrder(t *testing.T) {
	eb := NewEventBus()
	defer eb.Close()

	ctx := context.Background()
	kinds := []EventKind{EventMessagesChanged, EventUnreadChanged, EventPresenceChanged}
	for _, kind := range kinds {
		if err := eb.Publish(ctx, Event{Kind: kind}); err != nil {
			t.Fatalf("publish %s: %v", kind, err)
		}
	}
	for _, want := range kinds {
		ev, ok := eb.Consume(ctx)
		if !ok || ev.Kind != want {
			t.Fatalf("consume: got %v/%v, want %s", ev.Kind, ok, want)
		}
	}
}

func TestEventBus_TryPublishReportsFullWithoutBlocking(t *testing.T) {
	eb := NewEventBus()
	defer eb.Close()

	accepted := 0
	for eb.TryPublish(Event{Kind: EventMessagesChanged}) {
		accepted++
		if accepted > 10000 {
			t.Fatal("bus never reported full")
		}
	}
	if accepted == 0 {
		t.Fatal("an empty bus must accept the first event")
	}

	// Draining one slot makes TryPublish succeed again.
	if _, ok := eb.Consume(context.Background()); !ok {
		t.Fatal("consume: bus reported closed")
	}
	if !eb.TryPublish(Event{Kind: EventMessagesChanged}) {
		t.Error("publish must succeed after a slot is freed")
	}
}

func TestEventBus_TryPublishAfterClose(t *testing.T) {
	eb := NewEventBus()
	eb.Close()

	if eb.TryPublish(Event{Kind: EventMessagesChanged}) {
		t.Error("publish on a closed bus must report false")
	}
}

func TestEventBus_PublishAfterClose(t *testing.T) {
	eb := NewEventBus()
	eb.Close()

	if err := eb.Publish(context.Background(), Event{Kind: EventMessagesChanged}); err != ErrBusClosed {
		t.Errorf("publish after close: got %v, want ErrBusClosed", err)
	}
}

func TestEventBus_ConsumeUnblocksOnClose(t *testing.T) {
	eb := NewEventBus()

	done := make(chan bool, 1)
	go func() {
		_, ok := eb.Consume(context.Background())
		done <- ok
	}()

	eb.Close()
	select {
	case ok := <-done:
		if ok {
			t.Error("consume on closed bus must report not-ok")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consume did not unblock on close")
	}
}

func TestEventBus_ConsumeHonorsContext(t *testing.T) {
	eb := NewEventBus()
	defer eb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, ok := eb.Consume(ctx); ok {
		t.Error("consume must report not-ok on context timeout")
	}
}

func TestEventBus_CloseIdempotent(t *testing.T) {
	eb := NewEventBus()
	eb.Close()
	eb.Close()
}
