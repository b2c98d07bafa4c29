// Package invalidation implements the daemon's broadcast bus: any
// component that changes state (a task's progress, an instance being
// deleted, a log line) publishes an event here, and any number of
// subscribers (a GUI shell, tests)
// can listen without the publisher knowing who's listening.
package invalidation

import "sync"

// Event is one published notification.
type Event struct {
	Topic   string
	Payload any
}

// Bus is a simple fan-out broadcaster keyed by topic.
type Bus struct {
	mu   sync.Mutex
	subs map[string]map[int]chan Event
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]chan Event)}
}

// Subscribe registers for events on topic ("" subscribes to everything)
// and returns a receive channel plus a cancel func to unsubscribe.
func (b *Bus) Subscribe(topic string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan Event)
	}
	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[topic][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if m, ok := b.subs[topic]; ok {
			if c, ok := m[id]; ok {
				delete(m, id)
				close(c)
			}
		}
	}
	return ch, cancel
}

// Publish sends ev to every subscriber of ev.Topic and of the wildcard
// topic "". Slow subscribers never block the publisher: a full channel
// drops the event rather than stalling the bus.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, topic := range []string{ev.Topic, ""} {
		for _, ch := range b.subs[topic] {
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
