package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Hub broadcasts events to subscribers. Slow subscribers lose events
// instead of blocking the publisher.
type Hub struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	next    int
	buf     int
	dropped atomic.Uint64
}

// NewHub creates a hub whose subscriber channels hold buf events.
func NewHub(buf int) *Hub {
	if buf <= 0 {
		buf = 64
	}
	return &Hub{subs: make(map[int]chan Event), buf: buf}
}

// Publish stamps e and delivers it to every subscriber without blocking.
func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of events and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	id := h.next
	h.next++
	ch := make(chan Event, h.buf)
	h.subs[id] = ch
	h.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped for full subscribers.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }
