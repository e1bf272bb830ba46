package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/duneflow/eventagg/internal/config"
	"github.com/duneflow/eventagg/internal/dedupstore"
	"github.com/duneflow/eventagg/internal/eventmodel"
	"github.com/duneflow/eventagg/internal/ingestqueue"
	"github.com/duneflow/eventagg/pkg/log"
)

func newTestFixtures(t *testing.T) (*ingestqueue.Queue, *dedupstore.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := dedupstore.Open(dir, config.DurabilityCheckpoint)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return ingestqueue.New(16), store
}

func testLogger() log.Logger {
	return log.NewLogger(log.WithOutput(log.NullOutput{}))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestConsumerProcessesNewEventOnce(t *testing.T) {
	q, store := newTestFixtures(t)
	c := New(q, store, testLogger(), 200*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	ev := eventmodel.Event{Topic: "logs.test", EventID: "e1", Timestamp: "2025-10-23T10:00:00Z", Source: "t", Payload: []byte(`{"x":1}`)}
	if err := q.Enqueue(context.Background(), ev); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		v, _ := store.LoadCounter("unique_processed")
		return v == 1
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not shut down")
	}

	events, err := store.QueryEvents("logs.test", 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one stored event, got %d", len(events))
	}
}

func TestConsumerDropsDuplicates(t *testing.T) {
	q, store := newTestFixtures(t)
	c := New(q, store, testLogger(), 200*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	ev := eventmodel.Event{Topic: "logs.test", EventID: "e1", Timestamp: "2025-10-23T10:00:00Z", Source: "t", Payload: []byte(`{}`)}
	for i := 0; i < 3; i++ {
		if err := q.Enqueue(context.Background(), ev); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	waitFor(t, time.Second, func() bool {
		unique, _ := store.LoadCounter("unique_processed")
		dup, _ := store.LoadCounter("duplicate_dropped")
		return unique == 1 && dup == 2
	})

	cancel()
	<-done
}

func TestConsumerDrainsQueueOnShutdown(t *testing.T) {
	q, store := newTestFixtures(t)
	c := New(q, store, testLogger(), 500*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	for i := 0; i < 10; i++ {
		ev := eventmodel.Event{Topic: "t", EventID: string(rune('a' + i)), Timestamp: "2025-10-23T10:00:00Z", Source: "s", Payload: []byte(`{}`)}
		if err := q.Enqueue(context.Background(), ev); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not drain and exit in time")
	}

	got, err := store.LoadCounter("unique_processed")
	if err != nil {
		t.Fatalf("load counter: %v", err)
	}
	if got != 10 {
		t.Fatalf("expected all 10 events drained and processed, got %d", got)
	}
}

func TestConsumerExitsWhenQueueClosedAndDrained(t *testing.T) {
	q, store := newTestFixtures(t)
	c := New(q, store, testLogger(), time.Second)

	if err := q.Enqueue(context.Background(), eventmodel.Event{Topic: "t", EventID: "e1", Timestamp: "2025-10-23T10:00:00Z", Source: "s", Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.Close()

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean exit, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer did not exit after queue closed and drained")
	}
}
