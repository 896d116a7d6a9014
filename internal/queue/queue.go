// Package queue holds accepted webhook deliveries between the HTTP receiver and the
// settlement worker. Producers never block, the single consumer blocks until an item
// arrives, the context is cancelled, or the queue is closed.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Item is one accepted delivery, kept byte-for-byte as received.
type Item struct {
	Content    []byte
	Signature  string
	MockMode   bool
	ReceivedAt time.Time
	RequestID  string
}

// Queue is an unbounded FIFO safe for many producers and one consumer.
type Queue struct {
	mu     sync.Mutex
	items  []Item
	notify chan struct{}
	closed bool
}

func New() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Enqueue appends item. It never blocks and reports false only after Close.
func (q *Queue) Enqueue(item Item) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Dequeue removes the oldest item, waiting for one if the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (Item, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = Item{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return Item{}, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Item{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of waiting items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting items and wakes the consumer. Items already queued can
// still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}
