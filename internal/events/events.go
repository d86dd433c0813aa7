// Package events provides the in-process pub/sub bus the core publishes
// named events to. Delivery to viewers (dashboard, notifiers) is someone
// else's problem: subscribers attach here, and a slow subscriber loses
// events rather than blocking a publisher.
package events

import (
	"sync"
	"time"
)

// Type identifies the kind of event.
type Type string

const (
	TypeStateChanged        Type = "state_changed"
	TypeTurnCreated         Type = "turn_created"
	TypeAvailabilityChanged Type = "availability_changed"
	TypePriorityUpdated     Type = "priority_updated"
	TypeAgentEnded          Type = "agent_ended"
	TypeHandoffCompleted    Type = "handoff_completed"
	TypeAwaitingInput       Type = "awaiting_input"
)

// Event is one published fact.
type Event struct {
	Type    Type
	AgentID string
	At      time.Time
	Data    any // type-specific payload
}

// Bus is an in-process broadcast event bus. Thread-safe for concurrent
// publish and subscribe.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// subscriberBuffer bounds each subscriber channel so a stalled consumer
// cannot block publishers.
const subscriberBuffer = 100

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. The unsubscribe function must be
// called when done; it closes the returned channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	b.nextID++
	id := b.nextID
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			close(ch)
			delete(b.subs, id)
		}
	}
}

// Publish broadcasts an event. Non-blocking: a full subscriber channel
// drops the event for that subscriber only.
func (b *Bus) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Emit is shorthand for publishing a typed event for one agent.
func (b *Bus) Emit(t Type, agentID string, data any) {
	b.Publish(Event{Type: t, AgentID: agentID, Data: data})
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
