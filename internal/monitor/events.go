package monitor

import (
	"sync"
	"sync/atomic"

	"telemetry-hub/internal/metrics"
	"telemetry-hub/internal/models"
)

// Bus fans events out to subscribers. Each subscriber owns a bounded
// channel; Publish never blocks; an event that does not fit is dropped
// for that subscriber only.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan models.Event
	next    int
	closed  bool
	dropped atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan models.Event)}
}

// Subscribe registers a subscriber with the given buffer size. The
// returned cancel func unregisters it and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan models.Event, func()) {
	ch := make(chan models.Event, max(buffer, 1))
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *Bus) Publish(e models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
			metrics.EventsDropped.WithLabelValues(e.EventType()).Inc()
		}
	}
}

// Dropped returns the number of deliveries lost to full subscribers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close unregisters and closes every subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
