// Package pebblestore wraps a Pebble LSM database with the two durability
// policies the dedup store's open contract exposes: fsync on every mutation,
// or fsync on a mutation-count checkpoint boundary (group commit).
package pebblestore

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
)

// Durability selects when the WAL is fsynced.
type Durability int

const (
	// DurabilityCheckpoint fsyncs every CheckpointEvery mutations, or on
	// Close(). The default trade-off: bounded loss on
	// an OS crash, lower latency on the hot path.
	DurabilityCheckpoint Durability = iota
	// DurabilityStrict fsyncs the WAL before every successful mutation
	// returns.
	DurabilityStrict
)

// DefaultCheckpointEvery matches the "every ~100 mutations" target.
const DefaultCheckpointEvery = 100

// Options configures the Pebble store wrapper.
type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	// Durability selects the fsync policy.
	Durability Durability
	// CheckpointEvery is the mutation count between forced fsyncs when
	// Durability is DurabilityCheckpoint. Defaults to DefaultCheckpointEvery.
	CheckpointEvery int
	// PebbleOptions allows advanced tuning of Pebble. If nil, sensible
	// defaults are used.
	PebbleOptions *pebble.Options
	// Metrics allows observing read/write/commit latencies and sizes.
	// Optional.
	Metrics MetricsHook
}

// MetricsHook is a minimal hook surface for storage observations.
type MetricsHook interface {
	ObserveWrite(elapsed time.Duration, bytes int)
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int)
}

// NoopMetrics is used when no metrics hook is provided.
type NoopMetrics struct{}

func (NoopMetrics) ObserveWrite(time.Duration, int)            {}
func (NoopMetrics) ObserveRead(time.Duration, int)             {}
func (NoopMetrics) ObserveBatchCommit(time.Duration, int, int) {}

// DB wraps a Pebble database instance with a durability policy and basic
// helpers used by the dedup store.
type DB struct {
	inner           *pebble.DB
	durability      Durability
	checkpointEvery int64
	sinceSync       int64
	metrics         MetricsHook
}

// Open creates or opens a Pebble database with the provided options. It is
// idempotent: opening an existing data directory recovers cleanly from a
// prior process crash using Pebble's own WAL replay.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebblestore: Options.DataDir is required")
	}

	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}

	checkpointEvery := int64(opts.CheckpointEvery)
	if checkpointEvery <= 0 {
		checkpointEvery = DefaultCheckpointEvery
	}

	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, err
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}

	db := &DB{
		inner:           inner,
		durability:      opts.Durability,
		checkpointEvery: checkpointEvery,
		metrics:         metrics,
	}
	return db, nil
}

// Close flushes any pending checkpoint boundary and closes the database. All
// mutations committed before Close returns are durable.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	if err := db.forceSync(); err != nil {
		return err
	}
	return db.inner.Close()
}

// forceSync commits an empty synced batch, establishing a checkpoint
// boundary regardless of the configured policy.
func (db *DB) forceSync() error {
	b := db.inner.NewBatch()
	defer b.Close()
	return b.Commit(pebble.Sync)
}

// NewSnapshot creates a consistent view of the database. Caller must Close
// the snapshot.
func (db *DB) NewSnapshot() *pebble.Snapshot {
	return db.inner.NewSnapshot()
}

// NewBatch creates a new batch for atomic multi-key updates.
func (db *DB) NewBatch() *pebble.Batch {
	return db.inner.NewBatch()
}

// CommitBatch commits the provided batch, applying the configured
// durability policy. Under DurabilityCheckpoint, the WAL is only synced
// every CheckpointEvery commits.
func (db *DB) CommitBatch(ctx context.Context, b *pebble.Batch) error {
	if b == nil {
		return errors.New("pebblestore: nil batch")
	}
	start := time.Now()
	size := b.Len()
	numOps := int(b.Count())
	defer func() { db.metrics.ObserveBatchCommit(time.Since(start), numOps, size) }()

	sync := db.durability == DurabilityStrict
	if !sync && db.durability == DurabilityCheckpoint {
		if atomic.AddInt64(&db.sinceSync, 1) >= db.checkpointEvery {
			atomic.StoreInt64(&db.sinceSync, 0)
			sync = true
		}
	}

	syncMode := pebble.NoSync
	if sync {
		syncMode = pebble.Sync
	}
	return b.Commit(syncMode)
}

// Set sets a key to a value using a small internal batch respecting the
// durability policy.
func (db *DB) Set(key, value []byte) error {
	start := time.Now()
	b := db.inner.NewBatch()
	defer b.Close()
	if err := b.Set(key, value, nil); err != nil {
		return err
	}
	if err := db.CommitBatch(context.Background(), b); err != nil {
		return err
	}
	db.metrics.ObserveWrite(time.Since(start), len(key)+len(value))
	return nil
}

// Delete removes a key using a small internal batch respecting the
// durability policy.
func (db *DB) Delete(key []byte) error {
	b := db.inner.NewBatch()
	defer b.Close()
	if err := b.Delete(key, nil); err != nil {
		return err
	}
	return db.CommitBatch(context.Background(), b)
}

// Get copies the value for the given key. Returns pebble.ErrNotFound if
// absent.
func (db *DB) Get(key []byte) ([]byte, error) {
	start := time.Now()
	val, closer, err := db.inner.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	buf := append([]byte(nil), val...)
	db.metrics.ObserveRead(time.Since(start), len(buf))
	return buf, nil
}

// NewIter creates a raw Pebble iterator with the provided options.
func (db *DB) NewIter(opts *pebble.IterOptions) (*pebble.Iterator, error) {
	return db.inner.NewIter(opts)
}

// ErrNotFound re-exports Pebble's not-found sentinel so callers outside this
// package don't need to import Pebble directly.
var ErrNotFound = pebble.ErrNotFound
