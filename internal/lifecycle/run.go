// Package lifecycle wires the dedup store, ingestion queue, consumer loop,
// and HTTP surface into a single process and drives its startup and
// graceful shutdown sequencing.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/duneflow/eventagg/internal/config"
	"github.com/duneflow/eventagg/internal/consumer"
	"github.com/duneflow/eventagg/internal/dedupstore"
	"github.com/duneflow/eventagg/internal/httpserver"
	"github.com/duneflow/eventagg/internal/ingestqueue"
	logpkg "github.com/duneflow/eventagg/pkg/log"
)

// Run opens the dedup store, spawns the consumer worker, and serves HTTP
// until ctx is cancelled. On cancellation it stops accepting new publish
// requests, lets the consumer drain the queue within cfg.ShutdownGraceMs,
// then closes the store so its checkpointed state is flushed.
func Run(ctx context.Context, cfg config.Config) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DataDir == "" {
		cfg.DataDir = config.DefaultDataDir()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("lifecycle: invalid config: %w", err)
	}

	logger, err := logpkg.ApplyConfig(&logpkg.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return fmt.Errorf("lifecycle: build logger: %w", err)
	}
	logpkg.RedirectStdLog(logger)

	storeDir := filepath.Join(cfg.DataDir, "store")
	store, err := dedupstore.Open(storeDir, cfg.Durability)
	if err != nil {
		return fmt.Errorf("lifecycle: open dedup store: %w", err)
	}
	defer store.Close()

	queue := ingestqueue.New(cfg.QueueCapacity)
	srv := httpserver.New(queue, store, logger, cfg.BatchMax)

	if seed, err := seedProcessedCount(store); err != nil {
		logger.Error("failed to seed processed count from durable counters", logpkg.Err(err))
	} else {
		srv.SeedProcessedCount(seed)
	}

	grace := time.Duration(cfg.ShutdownGraceMs) * time.Millisecond
	worker := consumer.New(queue, store, logger, grace)
	worker.SetOnProcessed(srv.ObserveProcessed)

	logger.Info("starting eventagg server",
		logpkg.Str("bind_addr", cfg.BindAddr),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Int("queue_capacity", cfg.QueueCapacity),
		logpkg.Str("durability", string(cfg.Durability)),
	)

	consumerDone := make(chan error, 1)
	go func() { consumerDone <- worker.Run(sctx) }()

	httpDone := make(chan error, 1)
	go func() { httpDone <- srv.ListenAndServe(sctx, cfg.BindAddr) }()

	<-sctx.Done()
	logger.Info("shutdown signal received, draining")

	if err := <-httpDone; err != nil {
		logger.Error("http server shutdown error", logpkg.Err(err))
	}
	queue.Close()

	if err := <-consumerDone; err != nil {
		logger.Error("consumer loop exited with error", logpkg.Err(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func seedProcessedCount(store *dedupstore.Store) (int64, error) {
	unique, err := store.LoadCounter("unique_processed")
	if err != nil {
		return 0, err
	}
	duplicate, err := store.LoadCounter("duplicate_dropped")
	if err != nil {
		return 0, err
	}
	return int64(unique + duplicate), nil
}
