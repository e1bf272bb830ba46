// Package dedupstore is the durable correctness anchor of the aggregator:
// an atomic check-and-mark primitive backed by an embedded Pebble database,
// plus the payload and counter tables that ride alongside it.
package dedupstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/duneflow/eventagg/internal/config"
	"github.com/duneflow/eventagg/internal/dedupstore/pebblestore"
	"github.com/duneflow/eventagg/internal/eventmodel"
)

// MarkResult is the outcome of CheckAndMark.
type MarkResult int

const (
	// New means the (topic, event_id) pair had never been seen before.
	New MarkResult = iota
	// Duplicate means a marker already existed for the pair.
	Duplicate
)

func (r MarkResult) String() string {
	if r == New {
		return "New"
	}
	return "Duplicate"
}

// DefaultQueryLimit and MaxQueryLimit bound query_events' limit parameter.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
	MinQueryLimit     = 1
)

// Store is the dedup store. All exported methods are safe for concurrent
// use; MarkAndStore (and the lower-level CheckAndMark) is additionally
// atomic with respect to other calls on the same or different keys.
type Store struct {
	db *pebblestore.DB

	// checkAndMarkMu serializes MarkAndStore/CheckAndMark/StoreEvent so the
	// get-then-write on the marker table can't race. Pebble has no
	// SQL-style unique-constraint-with-observable-conflict primitive, so
	// this mutex is the atomicity mechanism (see spec's Open Questions).
	checkAndMarkMu sync.Mutex

	// countersMu serializes counter read-modify-write. Counters are
	// incremented both by concurrent publish handlers (received) and by
	// the single consumer (unique_processed, duplicate_dropped).
	countersMu sync.Mutex
}

// Open opens (or creates) the dedup store at path with the given
// durability mode. Idempotent and crash-recovery-safe: Pebble replays its
// own WAL on open, and Open reconciles any processed marker left behind
// without its stored event by a crash mid-write.
func Open(path string, durability config.Durability) (*Store, error) {
	mode := pebblestore.DurabilityCheckpoint
	if durability == config.DurabilityStrict {
		mode = pebblestore.DurabilityStrict
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:    path,
		Durability: mode,
	})
	if err != nil {
		return nil, fmt.Errorf("dedupstore: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.reconcileOrphans(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dedupstore: reconcile orphans: %w", err)
	}
	return s, nil
}

// reconcileOrphans deletes any processed marker that has no matching
// stored event. Such an orphan means the marker was written but the
// payload write never completed (a crash between the two, or an operator
// calling CheckAndMark without a following StoreEvent); MarkAndStore
// avoids creating new ones by writing both in a single batch, but this
// reconciles anything left over from before that was in place. Deleting
// the marker makes the event eligible for reprocessing, which is safe
// under the publisher's at-least-once delivery.
func (s *Store) reconcileOrphans() error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: markPrefix,
		UpperBound: prefixUpperBound(markPrefix),
	})
	if err != nil {
		return fmt.Errorf("orphan scan iterator: %w", err)
	}
	defer iter.Close()

	var orphans [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		topic, eventID, ok := splitMarkerKey(iter.Key())
		if !ok {
			continue
		}
		_, err := s.db.Get(payloadKey(topic, eventID))
		switch err {
		case nil:
			// has a payload, not an orphan
		case pebblestore.ErrNotFound:
			orphans = append(orphans, append([]byte(nil), iter.Key()...))
		default:
			return fmt.Errorf("orphan payload check for %s/%s: %w", topic, eventID, err)
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("orphan scan: %w", err)
	}
	for _, key := range orphans {
		if err := s.db.Delete(key); err != nil {
			return fmt.Errorf("delete orphan marker: %w", err)
		}
	}
	return nil
}

// Close releases the underlying storage handle. All mutations committed
// before Close returns are durable.
func (s *Store) Close() error {
	return s.db.Close()
}

// MarkAndStore is the consumer's entry point: it marks (topic, event_id) as
// processed and persists the full stored event in a single Pebble batch,
// so a processed marker is never durable without its stored event and vice
// versa (invariant 2). Concurrent callers for the same key observe exactly
// one New and the rest Duplicate; a Duplicate result writes nothing.
func (s *Store) MarkAndStore(ev eventmodel.StoredEvent) (MarkResult, error) {
	s.checkAndMarkMu.Lock()
	defer s.checkAndMarkMu.Unlock()

	key := markerKey(ev.Topic, ev.EventID)
	_, err := s.db.Get(key)
	if err == nil {
		return Duplicate, nil
	}
	if err != pebblestore.ErrNotFound {
		return Duplicate, fmt.Errorf("dedupstore: check marker: %w", err)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return Duplicate, fmt.Errorf("dedupstore: encode stored event: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	firstSeenAt := time.Now().UTC().Format(time.RFC3339Nano)
	if err := b.Set(key, []byte(firstSeenAt), nil); err != nil {
		return Duplicate, fmt.Errorf("dedupstore: batch marker: %w", err)
	}
	if err := b.Set(payloadKey(ev.Topic, ev.EventID), payload, nil); err != nil {
		return Duplicate, fmt.Errorf("dedupstore: batch payload: %w", err)
	}
	if err := b.Set(topicKey(ev.Topic), nil, nil); err != nil {
		return Duplicate, fmt.Errorf("dedupstore: batch topic marker: %w", err)
	}
	if err := s.db.CommitBatch(context.Background(), b); err != nil {
		return Duplicate, fmt.Errorf("dedupstore: commit mark-and-store: %w", err)
	}
	return New, nil
}

// CheckAndMark atomically inserts a processed marker for (topic, event_id)
// if absent, without writing a stored event. Concurrent callers for the
// same key observe exactly one New and the rest Duplicate. Prefer
// MarkAndStore for the consumer's mark-then-store sequence: calling
// CheckAndMark and StoreEvent as two separate steps can leave a marker
// durable with no matching stored event if the process crashes, or
// StoreEvent errors, between the two.
func (s *Store) CheckAndMark(topic, eventID string) (MarkResult, error) {
	s.checkAndMarkMu.Lock()
	defer s.checkAndMarkMu.Unlock()

	key := markerKey(topic, eventID)
	_, err := s.db.Get(key)
	if err == nil {
		return Duplicate, nil
	}
	if err != pebblestore.ErrNotFound {
		return Duplicate, fmt.Errorf("dedupstore: check marker: %w", err)
	}

	firstSeenAt := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.db.Set(key, []byte(firstSeenAt)); err != nil {
		return Duplicate, fmt.Errorf("dedupstore: write marker: %w", err)
	}
	return New, nil
}

// StoreEvent writes the full stored event under (topic, event_id). Intended
// to be called only after CheckAndMark returns New; writing to an existing
// key is a silent no-op and never overwrites. Prefer MarkAndStore, which
// commits the marker and the payload together.
func (s *Store) StoreEvent(ev eventmodel.StoredEvent) error {
	s.checkAndMarkMu.Lock()
	defer s.checkAndMarkMu.Unlock()

	key := payloadKey(ev.Topic, ev.EventID)
	if _, err := s.db.Get(key); err == nil {
		return nil
	} else if err != pebblestore.ErrNotFound {
		return fmt.Errorf("dedupstore: check payload: %w", err)
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("dedupstore: encode stored event: %w", err)
	}
	if err := s.db.Set(key, b); err != nil {
		return fmt.Errorf("dedupstore: write payload: %w", err)
	}
	if err := s.db.Set(topicKey(ev.Topic), nil); err != nil {
		return fmt.Errorf("dedupstore: write topic marker: %w", err)
	}
	return nil
}

// IncrementCounter durably adds delta (must be >= 0) to the named counter.
func (s *Store) IncrementCounter(name string, delta uint64) error {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()

	cur, err := s.loadCounterLocked(name)
	if err != nil {
		return err
	}
	next := cur + delta
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	if err := s.db.Set(counterKey(name), buf[:]); err != nil {
		return fmt.Errorf("dedupstore: write counter %s: %w", name, err)
	}
	return nil
}

// DecrementCounter durably subtracts delta from the named counter,
// clamping at 0 rather than underflowing. Used to compensate a durable
// increment for work that was counted optimistically but did not
// ultimately happen (see handlePublish's received counter on a
// partially-enqueued batch).
func (s *Store) DecrementCounter(name string, delta uint64) error {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()

	cur, err := s.loadCounterLocked(name)
	if err != nil {
		return err
	}
	var next uint64
	if delta < cur {
		next = cur - delta
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	if err := s.db.Set(counterKey(name), buf[:]); err != nil {
		return fmt.Errorf("dedupstore: write counter %s: %w", name, err)
	}
	return nil
}

// LoadCounter reads the current value of a counter, returning 0 for an
// unseen name.
func (s *Store) LoadCounter(name string) (uint64, error) {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	return s.loadCounterLocked(name)
}

func (s *Store) loadCounterLocked(name string) (uint64, error) {
	b, err := s.db.Get(counterKey(name))
	if err == pebblestore.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("dedupstore: read counter %s: %w", name, err)
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("dedupstore: counter %s has malformed value", name)
	}
	return binary.BigEndian.Uint64(b), nil
}

// QueryEvents returns up to limit stored events, optionally filtered to a
// topic, sorted by timestamp descending with (topic, event_id) as a stable
// tiebreak. limit is clamped to [MinQueryLimit, MaxQueryLimit]; 0 defaults
// to DefaultQueryLimit.
func (s *Store) QueryEvents(topic string, limit int) ([]eventmodel.StoredEvent, error) {
	limit = clampLimit(limit)

	prefix := payloadPrefix(topic)
	upper := prefixUpperBound(prefix)
	snap := s.db.NewSnapshot()
	defer snap.Close()
	iter, err := snap.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upper,
	})
	if err != nil {
		return nil, fmt.Errorf("dedupstore: query iterator: %w", err)
	}
	defer iter.Close()

	var events []eventmodel.StoredEvent
	for iter.First(); iter.Valid(); iter.Next() {
		var ev eventmodel.StoredEvent
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("dedupstore: decode stored event: %w", err)
		}
		// The prefix "pay/{topic}/" also covers topics that extend topic
		// with a '/'; keep only exact matches.
		if topic != "" && ev.Topic != topic {
			continue
		}
		events = append(events, ev)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("dedupstore: query iteration: %w", err)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp > events[j].Timestamp
		}
		if events[i].Topic != events[j].Topic {
			return events[i].Topic < events[j].Topic
		}
		return events[i].EventID < events[j].EventID
	})

	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// Topics returns the distinct topics observed by this store.
func (s *Store) Topics() ([]string, error) {
	snap := s.db.NewSnapshot()
	defer snap.Close()
	iter, err := snap.NewIter(&pebble.IterOptions{
		LowerBound: topicPrefix,
		UpperBound: prefixUpperBound(topicPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("dedupstore: topics iterator: %w", err)
	}
	defer iter.Close()

	var topics []string
	for iter.First(); iter.Valid(); iter.Next() {
		topics = append(topics, string(iter.Key()[len(topicPrefix):]))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("dedupstore: topics iteration: %w", err)
	}
	return topics, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit < MinQueryLimit {
		return MinQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}
