package ingestqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/duneflow/eventagg/internal/eventmodel"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := New(4)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ev := eventmodel.Event{Topic: "t", EventID: string(rune('a' + i))}
		if err := q.Enqueue(ctx, ev); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		ev, ok, err := q.Dequeue(ctx)
		if err != nil || !ok {
			t.Fatalf("dequeue %d: ok=%v err=%v", i, ok, err)
		}
		want := string(rune('a' + i))
		if ev.EventID != want {
			t.Fatalf("dequeue %d: got %s want %s", i, ev.EventID, want)
		}
	}
}

func TestEnqueueBlocksWhenFull(t *testing.T) {
	q := New(1)
	ctx := context.Background()
	if err := q.Enqueue(ctx, eventmodel.Event{EventID: "first"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- q.Enqueue(ctx, eventmodel.Event{EventID: "second"})
	}()

	select {
	case <-blocked:
		t.Fatal("enqueue on full queue should have blocked")
	case <-time.After(30 * time.Millisecond):
	}

	if _, _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	select {
	case err := <-blocked:
		if err != nil {
			t.Fatalf("enqueue after drain: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("enqueue never unblocked after a slot freed")
	}
}

func TestEnqueueRespectsContextCancellation(t *testing.T) {
	q := New(1)
	if err := q.Enqueue(context.Background(), eventmodel.Event{EventID: "fill"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, eventmodel.Event{EventID: "blocked"}); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestDequeueUnblocksOnClose(t *testing.T) {
	q := New(1)
	done := make(chan struct{})
	go func() {
		_, ok, err := q.Dequeue(context.Background())
		if err != nil {
			t.Errorf("dequeue: %v", err)
		}
		if ok {
			t.Errorf("expected drained queue to report ok=false")
		}
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dequeue never unblocked on close")
	}
}

func TestEnqueueAfterCloseFails(t *testing.T) {
	q := New(1)
	q.Close()
	if err := q.Enqueue(context.Background(), eventmodel.Event{}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestConcurrentProducersPreserveTotalCount(t *testing.T) {
	q := New(100)
	const producers, perProducer = 20, 25
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.Enqueue(context.Background(), eventmodel.Event{EventID: "x"})
			}
		}()
	}
	wg.Wait()
	if q.Len() != producers*perProducer {
		t.Fatalf("expected %d queued, got %d", producers*perProducer, q.Len())
	}
}
