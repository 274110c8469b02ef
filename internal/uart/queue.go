package uart

import (
	"context"
	"sync/atomic"
)

// Queue is the bounded FIFO the driver delivers events on.
// There is exactly one consumer; producers never block.
type Queue struct {
	ch      chan Event
	dropped atomic.Uint64
}

// NewQueue creates a queue holding at most depth events
func NewQueue(depth int) *Queue {
	if depth <= 0 {
		depth = 1
	}
	return &Queue{ch: make(chan Event, depth)}
}

// Post enqueues ev. It returns false and counts a drop when the queue is full.
func (q *Queue) Post(ev Event) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Receive blocks until an event is available or ctx is done
func (q *Queue) Receive(ctx context.Context) (Event, error) {
	select {
	case ev := <-q.ch:
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Reset discards every queued event and returns how many were discarded
func (q *Queue) Reset() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

func (q *Queue) Len() int { return len(q.ch) }

func (q *Queue) Cap() int { return cap(q.ch) }

// Dropped returns the number of events rejected because the queue was full
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
