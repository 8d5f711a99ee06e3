// Package events fans status events out to observers. Delivery is
// at-most-once: a slow subscriber loses events instead of blocking the
// publisher.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/elfradio/elfradio/internal/models"
)

// Publisher accepts status events for broadcast.
type Publisher interface {
	Publish(ev models.StatusEvent)
}

// Bus is a non-blocking broadcaster with one buffered channel per
// subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]chan models.StatusEvent
	nextID      uint64
	bufferSize  int
	closed      bool

	dropped atomic.Uint64
}

// NewBus creates a bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{
		subscribers: make(map[uint64]chan models.StatusEvent),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a receive channel and an unsubscribe function. The
// channel is closed on unsubscribe or when the bus closes.
func (b *Bus) Subscribe() (<-chan models.StatusEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan models.StatusEvent, b.bufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub)
			}
		})
	}
}

// Publish delivers ev to every subscriber that has room for it.
func (b *Bus) Publish(ev models.StatusEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Discard is a Publisher that drops everything.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(models.StatusEvent) {}
