// Package eventbus is an in-memory publish/subscribe bus.
// The relay publishes session lifecycle events on it; the relay monitor
// consumes them to report per-state totals.
//
//   - One buffered channel per subscriber (buffer=100).
//   - Publish never blocks: an event is dropped for a subscriber whose buffer is full,
//     and the drop is counted.
//   - No persistence.
package eventbus

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Event is a single published message.
type Event struct {
	Topic   string
	Payload any
}

// EventBus is the interface for publishing and subscribing to topics.
type EventBus interface {
	Publish(topic string, payload any)
	Subscribe(topic string) (<-chan Event, func())
}

const defaultBufferSize = 100

// Bus is the in-memory implementation of EventBus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event
	closed      bool
	dropped     atomic.Int64
}

var _ EventBus = &Bus{}

// New returns a new in-memory Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan Event),
	}
}

// Subscribe registers a subscriber for topic. The returned function
// unsubscribes and closes the channel; calling it more than once is safe.
// Subscribing to a closed bus returns an already-closed channel.
func (b *Bus) Subscribe(topic string) (<-chan Event, func()) {
	ch := make(chan Event, defaultBufferSize)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.unsubscribe(topic, ch) })
	}
}

// Publish sends an Event to all subscribers of topic without blocking.
func (b *Bus) Publish(topic string, payload any) {
	evt := Event{Topic: topic, Payload: payload}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later Publish calls are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, topic)
	}
}

func (b *Bus) unsubscribe(topic string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[topic]
	i := slices.Index(subs, ch)
	if i < 0 {
		return
	}
	b.subscribers[topic] = slices.Delete(subs, i, i+1)
	close(ch)
}
