package engine

import (
	"testing"
	"time"
)

func TestEmitterDeliversToAllSubscribers(t *testing.T) {
	e := NewEventEmitter(10)
	defer e.Close()

	ch1, unsub1 := e.Subscribe()
	defer unsub1()
	ch2, unsub2 := e.Subscribe()
	defer unsub2()

	e.Emit(Event{Type: EventTaskCompleted, TaskID: "t1"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.TaskID != "t1" {
				t.Errorf("subscriber %d: unexpected event %+v", i, ev)
			}
			if ev.Timestamp.IsZero() {
				t.Errorf("subscriber %d: expected timestamp to be stamped", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: no event received", i)
		}
	}
}

func TestEmitterSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	e := NewEventEmitter(1)
	defer e.Close()

	// Slow subscriber: never reads, its buffer fills after one event.
	_, unsubSlow := e.Subscribe()
	defer unsubSlow()
	fast, unsubFast := e.Subscribe()
	defer unsubFast()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			e.Emit(Event{Type: EventTaskFailed, TaskID: "t"})
			// Keep the fast subscriber drained.
			select {
			case <-fast:
			case <-time.After(time.Second):
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("emit blocked on a slow subscriber")
	}

	if e.DroppedCount() == 0 {
		t.Error("expected dropped events for the slow subscriber")
	}
}

func TestEmitterUnsubscribe(t *testing.T) {
	e := NewEventEmitter(10)
	defer e.Close()

	ch, unsub := e.Subscribe()
	unsub()

	// Channel is closed after unsubscribe.
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after unsubscribe")
	}

	// Unsubscribing twice is safe.
	unsub()
}

func TestEmitterCloseIsIdempotent(t *testing.T) {
	e := NewEventEmitter(10)
	ch, _ := e.Subscribe()
	e.Close()
	e.Close()

	if _, ok := <-ch; ok {
		t.Error("expected closed subscriber channel after Close")
	}

	// Emit after close is a no-op.
	e.Emit(Event{Type: EventTaskCompleted})
}
