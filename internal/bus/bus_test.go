package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindConnStatusChanged, Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != KindConnStatusChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, KindConnStatusChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestEmitStampsTimestamp(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	before := time.Now()
	b.Emit(KindMessageInserted, int64(1000))

	select {
	case evt := <-ch:
		if evt.Timestamp.Before(before) {
			t.Errorf("timestamp %v is before publish time %v", evt.Timestamp, before)
		}
		if evt.Payload.(int64) != 1000 {
			t.Errorf("payload = %v, want 1000", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("match.", 10)
	defer unsub()

	b.Emit(KindConnStatusChanged, nil)
	b.Emit(KindMatchStateChanged, nil)

	select {
	case evt := <-ch:
		if evt.Kind != KindMatchStateChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, KindMatchStateChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure conn event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conn.", 10)
	unsub()
	unsub()

	b.Emit(KindConnStatusChanged, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
	if n := b.Subscribers(); n != 0 {
		t.Errorf("Subscribers() = %d, want 0", n)
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 1)
	defer unsub()

	b.Emit(KindMessageInserted, nil)
	// This should be dropped (non-blocking).
	b.Emit(KindMessageQueued, nil)

	evt := <-ch
	if evt.Kind != KindMessageInserted {
		t.Errorf("got %q, want %s", evt.Kind, KindMessageInserted)
	}
}

func TestPublishNilBus(t *testing.T) {
	var b *Bus
	b.Emit(KindConnFailed, nil)
}
