// Package ingestqueue is the bounded in-memory FIFO between publish
// handlers and the consumer loop. It is the sole back-pressure mechanism:
// no element is ever dropped by the queue itself, and it holds nothing
// durable across a restart.
package ingestqueue

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/duneflow/eventagg/internal/eventmodel"
)

// ErrClosed is returned by Enqueue once the queue has been closed.
var ErrClosed = errors.New("ingestqueue: closed")

// Queue is a multi-producer/single-consumer bounded FIFO of events.
type Queue struct {
	ch     chan eventmodel.Event
	closed int32
}

// New creates a queue with the given capacity. A non-positive capacity
// panics — a zero-capacity queue would deadlock every publisher.
func New(capacity int) *Queue {
	if capacity <= 0 {
		panic("ingestqueue: capacity must be > 0")
	}
	return &Queue{ch: make(chan eventmodel.Event, capacity)}
}

// Enqueue appends one event, blocking while the queue is full. It returns
// ctx.Err() if ctx is done before a slot frees up, and ErrClosed if the
// queue has been closed.
func (q *Queue) Enqueue(ctx context.Context, ev eventmodel.Event) error {
	if atomic.LoadInt32(&q.closed) != 0 {
		return ErrClosed
	}
	select {
	case q.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue removes and returns the oldest event, blocking while the queue
// is empty. It returns ctx.Err() if ctx is done first, or (zero-value,
// false) once the queue is closed and drained.
func (q *Queue) Dequeue(ctx context.Context) (eventmodel.Event, bool, error) {
	select {
	case ev, ok := <-q.ch:
		if !ok {
			return eventmodel.Event{}, false, nil
		}
		return ev, true, nil
	case <-ctx.Done():
		return eventmodel.Event{}, false, ctx.Err()
	}
}

// Len reports the current queue depth. Advisory only — it can change the
// instant after it's read.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap reports the queue's fixed capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Close marks the queue closed and unblocks any pending Dequeue once
// buffered items are drained. Further Enqueue calls fail with ErrClosed.
// Close must be called at most once.
//
// Enqueue's closed-check and its send on q.ch are two separate steps, not
// one atomic operation, so a Close racing a concurrent Enqueue could panic
// on a send to a closed channel. This is safe only because callers are
// required to fully stop and drain producers (the HTTP server's publish
// handler) before calling Close — internal/lifecycle.Run shuts the HTTP
// server down and waits for it before closing the queue. Close must never
// be called while a producer might still be enqueueing.
func (q *Queue) Close() {
	if atomic.CompareAndSwapInt32(&q.closed, 0, 1) {
		close(q.ch)
	}
}
