package session

import (
	"context"
	"sync"

	"github.com/elfradio/elfradio/internal/models"
)

// txQueue orders outgoing items by priority, FIFO within equal priority.
type txQueue struct {
	mu     sync.Mutex
	items  []models.TxItem
	notify chan struct{}
}

func newTxQueue() *txQueue {
	return &txQueue{notify: make(chan struct{}, 1)}
}

func (q *txQueue) push(item models.TxItem) {
	q.mu.Lock()
	i := len(q.items)
	for i > 0 && q.items[i-1].Priority < item.Priority {
		i--
	}
	q.items = append(q.items, models.TxItem{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = item
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *txQueue) pop(ctx context.Context) (models.TxItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return models.TxItem{}, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *txQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
