// Package bus fans progress events out from the orchestration core to
// subscribers (event-stream gateway, history persistence, tests). Delivery
// is synchronous and at-least-once; handlers must be non-blocking and
// tolerate duplicates.
package bus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is one progress signal: a request status transition, a recorded
// turn, or a backend lifecycle change.
type Event struct {
	Seq       int64       `json:"seq"`
	Type      string      `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Handler receives published events. Handlers run on the publisher's
// goroutine and must not block.
type Handler func(Event)

// Bus is the process-wide event fan-out.
type Bus struct {
	seq         atomic.Int64
	subscribers map[string]Handler
	mu          sync.RWMutex
}

func New() *Bus {
	return &Bus{subscribers: make(map[string]Handler)}
}

// Subscribe registers an event subscriber under the given ID.
func (b *Bus) Subscribe(id string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = h
}

// Unsubscribe removes an event subscriber.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Publish assigns the event a sequence number and delivers it to every
// subscriber before returning, so a status transition is observable no
// later than it takes effect.
func (b *Bus) Publish(eventType, requestID string, payload interface{}) Event {
	event := Event{
		Seq:       b.seq.Add(1),
		Type:      eventType,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.subscribers {
		h(event)
	}
	return event
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
