package engine

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// EventEmitter fans engine events out to subscribers.
// Each subscriber gets its own buffered channel; a subscriber that cannot
// keep up drops events instead of blocking the tick loop or the other
// subscribers.
type EventEmitter struct {
	mu           sync.RWMutex
	subscribers  map[int]chan Event
	nextID       int
	bufferSize   int
	closed       bool
	droppedCount atomic.Uint64
}

// NewEventEmitter creates a new EventEmitter. Each subscriber channel is
// buffered with the given size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		subscribers: make(map[int]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a new subscriber and returns its event channel plus
// an unsubscribe function. The channel is closed on unsubscribe or when the
// emitter is closed.
func (e *EventEmitter) Subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := e.nextID
	e.nextID++
	ch := make(chan Event, e.bufferSize)
	e.subscribers[id] = ch

	unsubscribe := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subscribers[id]; ok {
			delete(e.subscribers, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// Emit delivers the event to every subscriber. Delivery to each subscriber
// is attempted immediately, then once more with a short timeout before the
// event is dropped for that subscriber only.
func (e *EventEmitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.RLock()
	subs := make([]chan Event, 0, len(e.subscribers))
	for _, ch := range e.subscribers {
		subs = append(subs, ch)
	}
	e.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- event:
			continue
		default:
			// Subscriber buffer full, give it a chance to drain.
		}

		select {
		case ch <- event:
		case <-time.After(100 * time.Millisecond):
			count := e.droppedCount.Add(1)
			if count%10 == 1 { // Log every 10th drop to avoid spam
				log.Printf("[engine] WARNING: subscriber channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
			}
		}
	}
}

// DroppedCount returns the total number of events dropped across all
// subscribers.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Close closes every subscriber channel. Emit after Close is a no-op.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, ch := range e.subscribers {
		delete(e.subscribers, id)
		close(ch)
	}
}
