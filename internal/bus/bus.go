// Package bus implements the in-process publish/subscribe channel that
// decouples workflow state transitions from external observers.
package bus

import (
	"sync"
	"time"
)

// Wildcard subscribes a callback to every event type.
const Wildcard = "*"

// DefaultHistory is the bounded history capacity.
const DefaultHistory = 1000

// Event is one published event.
type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Callback receives published events. Callbacks run synchronously on the
// emitter's goroutine; a panic in one callback is contained and does not
// affect delivery to the others.
type Callback func(eventType string, data map[string]any)

// Subscription identifies one registered callback so it can be removed.
type Subscription struct {
	EventType string
	id        uint64
	cb        Callback
}

// Bus is a mutex-guarded pub/sub hub with a bounded ring of recent events.
type Bus struct {
	mu       sync.Mutex
	subs     map[string][]*Subscription
	history  []Event
	start    int
	count    int
	capacity int
	nextID   uint64
}

// New creates a Bus with the given history capacity (DefaultHistory when
// non-positive).
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultHistory
	}
	return &Bus{
		subs:     make(map[string][]*Subscription),
		history:  make([]Event, capacity),
		capacity: capacity,
	}
}

// Subscribe registers a callback for one event type (or Wildcard for all)
// and returns the handle needed to unsubscribe it.
func (b *Bus) Subscribe(eventType string, cb Callback) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{EventType: eventType, id: b.nextID, cb: cb}
	b.subs[eventType] = append(b.subs[eventType], sub)
	return sub
}

// Unsubscribe removes a previously registered subscription. Unknown
// subscriptions are ignored.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.EventType]
	for i, s := range list {
		if s.id == sub.id {
			b.subs[sub.EventType] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.EventType]) == 0 {
		delete(b.subs, sub.EventType)
	}
}

// Emit records the event in the bounded history and synchronously
// notifies subscribers of the exact type followed by wildcard
// subscribers. A failing subscriber never blocks delivery to the rest.
func (b *Bus) Emit(eventType string, data map[string]any) {
	event := Event{Type: eventType, Data: data, Timestamp: time.Now().UTC()}

	b.mu.Lock()
	b.append(event)
	targets := make([]*Subscription, 0, len(b.subs[eventType])+len(b.subs[Wildcard]))
	targets = append(targets, b.subs[eventType]...)
	if eventType != Wildcard {
		targets = append(targets, b.subs[Wildcard]...)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		deliver(sub.cb, eventType, data)
	}
}

// deliver invokes one callback, containing any panic.
func deliver(cb Callback, eventType string, data map[string]any) {
	defer func() { _ = recover() }()
	cb(eventType, data)
}

// append adds an event to the ring, evicting the oldest at capacity.
// Caller holds the lock.
func (b *Bus) append(e Event) {
	if b.count < b.capacity {
		b.history[(b.start+b.count)%b.capacity] = e
		b.count++
		return
	}
	b.history[b.start] = e
	b.start = (b.start + 1) % b.capacity
}

// History returns the most recent limit events in emission order,
// optionally filtered by event type (empty string for all). A
// non-positive limit returns everything retained.
func (b *Bus) History(eventType string, limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := make([]Event, 0, b.count)
	for i := 0; i < b.count; i++ {
		e := b.history[(b.start+i)%b.capacity]
		if eventType == "" || e.Type == eventType {
			events = append(events, e)
		}
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events
}
