package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 4)
	defer unsub()

	b.Publish(Event{Kind: KindMessageInserted, Timestamp: time.Now(), Payload: int64(7)})

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageInserted {
			t.Errorf("got kind %q, want %q", evt.Kind, KindMessageInserted)
		}
		if evt.Payload.(int64) != 7 {
			t.Errorf("got payload %v, want 7", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("thread.", 4)
	defer unsub()

	b.Publish(Event{Kind: KindMessageExpired})
	b.Publish(Event{Kind: KindThreadUpdated})

	select {
	case evt := <-ch:
		if evt.Kind != KindThreadUpdated {
			t.Errorf("got kind %q, want %q", evt.Kind, KindThreadUpdated)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the message event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestEmptyNamespaceMatchesAll(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 4)
	defer unsub()

	b.Publish(Event{Kind: KindMessageInserted})
	b.Publish(Event{Kind: KindRecipientUpdate})

	if evt := <-ch; evt.Kind != KindMessageInserted {
		t.Errorf("got %q, want %q", evt.Kind, KindMessageInserted)
	}
	if evt := <-ch; evt.Kind != KindRecipientUpdate {
		t.Errorf("got %q, want %q", evt.Kind, KindRecipientUpdate)
	}
}

func TestSubscribeDefaultBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 0)
	defer unsub()

	if cap(ch) != DefaultBuffer {
		t.Errorf("buffer capacity = %d, want %d", cap(ch), DefaultBuffer)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("recipient.", 4)
	unsub()

	b.Publish(Event{Kind: KindRecipientUpdate})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: KindMessageInserted, Payload: 1})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: KindMessageInserted, Payload: 2})

	evt := <-ch
	if evt.Payload.(int) != 1 {
		t.Errorf("got payload %v, want 1", evt.Payload)
	}
}
