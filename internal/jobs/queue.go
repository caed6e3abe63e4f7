package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/rendis/scenecraft/pkg/schema"
)

// ErrQueueClosed is returned by Pop once the queue is closed and drained,
// and by Push after Close.
var ErrQueueClosed = errors.New("event queue is closed")

// Queue is an unbounded FIFO of events. Push never blocks; Pop suspends
// until an event is available. Any number of producers may push; a single
// consumer pops.
type Queue struct {
	mu     sync.Mutex
	items  []schema.Event
	ready  chan struct{}
	closed bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push appends e.
func (q *Queue) Push(e schema.Event) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes and returns the oldest event, waiting for one if the queue
// is empty. Events pushed before Close are still delivered.
func (q *Queue) Pop(ctx context.Context) (schema.Event, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			e := q.items[0]
			q.items[0] = schema.Event{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return e, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return schema.Event{}, ErrQueueClosed
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			return schema.Event{}, ctx.Err()
		}
	}
}

// Len returns the number of undelivered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops further pushes and wakes a waiting consumer.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}
