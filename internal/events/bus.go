package events

import (
	"sync"
	"sync/atomic"
)

// Bus is a one-producer, many-subscriber broadcast of engine events.
//
// Slow consumers never block the producer: when a subscriber's buffer is full
// the oldest buffered event is dropped and the subscription's lag counter is
// incremented. Consumers that observe a lag increase should treat their view
// of the world as stale and refresh from the engine's read accessors.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Subscription is one consumer's view of the event feed. Receive from C;
// check Lagged to detect dropped events.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	lagged atomic.Uint64
	bus    *Bus
}

// Lagged returns the total number of events dropped for this subscriber.
func (s *Subscription) Lagged() uint64 {
	return s.lagged.Load()
}

// Close detaches the subscription from the bus and closes its channel.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a consumer with the given buffer size. Events published
// while the buffer is full displace the oldest buffered event.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, bus: b}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers the event to every subscriber without ever blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		for {
			select {
			case sub.ch <- ev:
			default:
				// Buffer full: drop the oldest event and retry.
				select {
				case <-sub.ch:
					sub.lagged.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}

// Close closes every subscriber channel. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}
