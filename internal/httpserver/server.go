// Package httpserver exposes the four-endpoint HTTP surface over the
// ingestion queue and dedup store: publish, query, stats, and health.
package httpserver

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/duneflow/eventagg/internal/dedupstore"
	"github.com/duneflow/eventagg/internal/ingestqueue"
	"github.com/duneflow/eventagg/pkg/id"
	"github.com/duneflow/eventagg/pkg/log"
)

type ctxKey int

const requestLoggerKey ctxKey = iota

// Server wires the HTTP surface to the ingestion queue and dedup store. It
// owns its own listener lifecycle so the caller can run it alongside the
// consumer loop and shut both down in the right order.
type Server struct {
	queue  *ingestqueue.Queue
	store  *dedupstore.Store
	logger log.Logger
	idGen  *id.Generator

	srv       *http.Server
	lis       net.Listener
	startedAt time.Time
	batchMax  int

	// processedCount mirrors the consumer's processed events in memory so
	// GET /health never reads through to the dedup store.
	processedCount atomic.Int64
}

// New builds a Server. batchMax bounds the number of events accepted per
// publish request; a non-positive value falls back to eventmodel's
// built-in default. Call ObserveProcessed from the consumer's
// SetOnProcessed hook to keep the health endpoint's in-memory counter
// current.
func New(queue *ingestqueue.Queue, store *dedupstore.Store, logger log.Logger, batchMax int) *Server {
	s := &Server{
		queue:     queue,
		store:     store,
		logger:    logger.WithComponent("httpserver"),
		idGen:     id.NewGenerator(),
		startedAt: time.Now(),
		batchMax:  batchMax,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/publish", s.handlePublish)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/health", s.handleHealth)
	s.srv = &http.Server{Handler: cors(s.withRequestID(mux))}
	return s
}

// withRequestID stamps every request with a monotonic id.ID, echoed back
// as the X-Request-Id header and attached to a per-request logger that
// handlers pull via requestLogger. This is the same request/trace id
// pattern pkg/id was written for; every log line emitted while handling a
// request carries it, so a single request's log lines can be grepped out
// of a busy server's output.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := s.idGen.Next().String()
		w.Header().Set("X-Request-Id", reqID)
		logger := s.logger.With(log.Str("request_id", reqID))
		ctx := context.WithValue(r.Context(), requestLoggerKey, logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger returns the per-request logger stamped by withRequestID,
// falling back to s.logger if called outside that middleware (as in
// tests that invoke handlers directly).
func (s *Server) requestLogger(r *http.Request) log.Logger {
	if l, ok := r.Context().Value(requestLoggerKey).(log.Logger); ok {
		return l
	}
	return s.logger
}

// ObserveProcessed increments the in-memory processed counter used by
// GET /health. Wire it up as the consumer's onProcessed callback.
func (s *Server) ObserveProcessed() {
	s.processedCount.Add(1)
}

// SeedProcessedCount initializes the in-memory processed counter from the
// durable counters at startup, so /health is accurate immediately after a
// restart without needing to read the store again afterward.
func (s *Server) SeedProcessedCount(n int64) {
	s.processedCount.Store(n)
}

// ListenAndServe binds addr and serves until ctx is cancelled, at which
// point it shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(cctx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Close releases the listener without waiting for in-flight requests. Used
// as a fallback if ListenAndServe's context is never cancelled.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
