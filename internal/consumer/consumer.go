// Package consumer implements the single cooperative worker that drains the
// ingestion queue into the dedup store: check-and-mark, then store or count
// as a duplicate.
package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/duneflow/eventagg/internal/dedupstore"
	"github.com/duneflow/eventagg/internal/eventmodel"
	"github.com/duneflow/eventagg/internal/ingestqueue"
	"github.com/duneflow/eventagg/pkg/log"
)

const (
	counterUniqueProcessed = "unique_processed"
	counterDuplicateDrop   = "duplicate_dropped"
)

// Consumer drains a Queue into a Store. There is exactly one Consumer per
// Store; it is not safe to run two Consumers over the same queue.
type Consumer struct {
	queue        *ingestqueue.Queue
	store        *dedupstore.Store
	logger       log.Logger
	drainTimeout time.Duration
	onProcessed  func()
}

// New builds a Consumer. drainTimeout bounds how long Run keeps draining
// the queue after ctx is cancelled.
func New(queue *ingestqueue.Queue, store *dedupstore.Store, logger log.Logger, drainTimeout time.Duration) *Consumer {
	return &Consumer{queue: queue, store: store, logger: logger.WithComponent("consumer"), drainTimeout: drainTimeout}
}

// SetOnProcessed registers a callback invoked once after every event this
// consumer processes (new or duplicate). It exists so callers such as the
// health endpoint can maintain an in-memory processed count without ever
// touching the dedup store on their request path.
func (c *Consumer) SetOnProcessed(fn func()) {
	c.onProcessed = fn
}

// Run dequeues events strictly in enqueue order until ctx is cancelled, at
// which point it drains whatever is already queued up to drainTimeout
// before returning. Run never exits on a single-event processing error; it
// only exits on cancellation (after draining) or once a closed, empty
// queue reports no more work.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		ev, ok, err := c.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return c.drain()
			}
			return err
		}
		if !ok {
			return nil
		}
		c.process(ev)
	}
}

// drain keeps consuming already-queued events for up to c.drainTimeout,
// then returns regardless of remaining queue depth. It never blocks past
// the deadline: a slow shutdown must not hang the process.
func (c *Consumer) drain() error {
	deadline := time.Now().Add(c.drainTimeout)
	for {
		if c.queue.Len() == 0 {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		dctx, cancel := context.WithTimeout(context.Background(), remaining)
		ev, ok, err := c.queue.Dequeue(dctx)
		cancel()
		if err != nil {
			return nil
		}
		if !ok {
			return nil
		}
		c.process(ev)
	}
}

// process is steps 2-5 of the consumer loop for a single event. Errors are
// logged and swallowed: the publisher's at-least-once semantics cover
// retry, and the loop must stay alive.
func (c *Consumer) process(ev eventmodel.Event) {
	stored := eventmodel.StoredEvent{
		Topic:       ev.Topic,
		EventID:     ev.EventID,
		Timestamp:   ev.Timestamp,
		Source:      ev.Source,
		Payload:     ev.Payload,
		ProcessedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}

	result, err := c.store.MarkAndStore(stored)
	if err != nil {
		c.logger.Error("mark_and_store failed", log.Str("topic", ev.Topic), log.Str("event_id", ev.EventID), log.Err(err))
		return
	}
	if c.onProcessed != nil {
		defer c.onProcessed()
	}

	switch result {
	case dedupstore.New:
		if err := c.store.IncrementCounter(counterUniqueProcessed, 1); err != nil {
			c.logger.Error("increment unique_processed failed", log.Err(err))
		}
	case dedupstore.Duplicate:
		if err := c.store.IncrementCounter(counterDuplicateDrop, 1); err != nil {
			c.logger.Error("increment duplicate_dropped failed", log.Err(err))
		}
	}
}
