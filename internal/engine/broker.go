package engine

import (
	"encoding/json"
	"sync"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// Event types published for an operation.
const (
	EventLog      = "log"
	EventProgress = "progress"
	EventComplete = "complete"
)

// Event is one item in an operation's event stream. Data is JSON: a string
// for log events, the host's payload for progress events and the final
// state for complete events.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EventBroker fans out per-operation events to subscribers.
// It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers (those
// subscribing after an operation finishes) receive a closed channel instead
// of blocking forever.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewEventBroker creates a new event broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[string]*topic),
	}
}

// Subscribe returns a channel that receives events for the given operation
// and an unsubscribe function. If the operation has already finished (Close
// was called), the returned channel is immediately closed.
func (b *EventBroker) Subscribe(operationID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[operationID]
	if !ok {
		t = &topic{subs: make(map[int]chan Event)}
		b.topics[operationID] = t
	}

	ch := make(chan Event, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends an event to all subscribers of the given operation.
// Events are dropped for subscribers whose buffers are full.
func (b *EventBroker) Publish(operationID string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[operationID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			// Drop for slow subscribers to avoid blocking the operation.
		}
	}
}

// Close signals that no more events will be published for the given
// operation. All subscriber channels are closed and future Subscribe calls
// return a closed channel.
//
// A closed topic is kept as an empty marker so late subscribers still see
// the end of the stream. Markers live as long as the broker, which matches
// the registry: operations are never removed either.
func (b *EventBroker) Close(operationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[operationID]
	if !ok {
		b.topics[operationID] = &topic{closed: true}
		return
	}

	t.closed = true
	for _, ch := range t.subs {
		close(ch)
	}
	t.subs = nil
}

// logEvent wraps a captured log line as an Event.
func logEvent(line string) Event {
	data, _ := json.Marshal(line)
	return Event{Type: EventLog, Data: data}
}
