package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/duneflow/eventagg/internal/dedupstore"
	"github.com/duneflow/eventagg/internal/eventmodel"
	"github.com/duneflow/eventagg/pkg/log"
)

const (
	counterReceived        = "received"
	counterUniqueProcessed = "unique_processed"
	counterDuplicateDrop   = "duplicate_dropped"
)

type publishRequest struct {
	Events []eventmodel.Event `json:"events"`
}

type publishResponse struct {
	Accepted int    `json:"accepted"`
	Message  string `json:"message"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// handlePublish is InvalidRequest -> 400, QueueSaturated -> 503, else 202.
// received is incremented by the full batch size before any event is
// enqueued, so invariant (1) (received >= unique_processed +
// duplicate_dropped) holds at every instant the consumer can observe,
// including while this handler is still running. If enqueue fails partway,
// the events that never made it into the queue are compensated back out of
// received before returning 503.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := eventmodel.ValidateBatch(req.Events, s.batchMax); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logger := s.requestLogger(r)

	total := len(req.Events)
	if err := s.store.IncrementCounter(counterReceived, uint64(total)); err != nil {
		logger.Error("increment received failed", log.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to record received count")
		return
	}

	enqueued := 0
	for _, ev := range req.Events {
		if err := s.queue.Enqueue(r.Context(), ev); err != nil {
			unenqueued := total - enqueued
			if cerr := s.store.DecrementCounter(counterReceived, uint64(unenqueued)); cerr != nil {
				logger.Error("compensate received failed", log.Err(cerr))
			}
			writeError(w, http.StatusServiceUnavailable, "queue saturated")
			return
		}
		enqueued++
	}

	writeJSON(w, http.StatusAccepted, publishResponse{
		Accepted: enqueued,
		Message:  "accepted",
	})
}

type eventsResponse struct {
	Topic  *string                  `json:"topic"`
	Total  int                      `json:"total"`
	Events []eventmodel.StoredEvent `json:"events"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	topic := q.Get("topic")

	limit := dedupstore.DefaultQueryLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	filter, err := newCELFilter(q.Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid filter expression: "+err.Error())
		return
	}

	// Fetch the maximum candidate set so an applied filter never starves a
	// requested limit smaller than what unfiltered results would supply.
	// This candidate set is still bounded by MaxQueryLimit: a filter only
	// ever sees the newest MaxQueryLimit stored events for the topic, so a
	// match older than that window is invisible to a filtered query even
	// though it would show up in an unfiltered one with a larger limit.
	candidates, err := s.store.QueryEvents(topic, dedupstore.MaxQueryLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query events")
		return
	}

	events := candidates
	if filter.enabled {
		events = make([]eventmodel.StoredEvent, 0, len(candidates))
		for _, ev := range candidates {
			if filter.Eval(ev) {
				events = append(events, ev)
			}
		}
	}

	clamped := clampLimit(limit)
	if len(events) > clamped {
		events = events[:clamped]
	}
	if events == nil {
		events = []eventmodel.StoredEvent{}
	}

	var topicField *string
	if topic != "" {
		topicField = &topic
	}

	writeJSON(w, http.StatusOK, eventsResponse{
		Topic:  topicField,
		Total:  len(events),
		Events: events,
	})
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return dedupstore.DefaultQueryLimit
	}
	if limit < dedupstore.MinQueryLimit {
		return dedupstore.MinQueryLimit
	}
	if limit > dedupstore.MaxQueryLimit {
		return dedupstore.MaxQueryLimit
	}
	return limit
}

type statsResponse struct {
	UptimeSeconds    float64  `json:"uptime_seconds"`
	Received         uint64   `json:"received"`
	UniqueProcessed  uint64   `json:"unique_processed"`
	DuplicateDropped uint64   `json:"duplicate_dropped"`
	Topics           []string `json:"topics"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	received, err := s.store.LoadCounter(counterReceived)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read counters")
		return
	}
	unique, err := s.store.LoadCounter(counterUniqueProcessed)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read counters")
		return
	}
	duplicate, err := s.store.LoadCounter(counterDuplicateDrop)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read counters")
		return
	}
	topics, err := s.store.Topics()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read topics")
		return
	}
	if topics == nil {
		topics = []string{}
	}

	writeJSON(w, http.StatusOK, statsResponse{
		UptimeSeconds:    time.Since(s.startedAt).Seconds(),
		Received:         received,
		UniqueProcessed:  unique,
		DuplicateDropped: duplicate,
		Topics:           topics,
	})
}

type healthResponse struct {
	Status         string `json:"status"`
	QueueSize      int    `json:"queue_size"`
	ProcessedCount int64  `json:"processed_count"`
}

// handleHealth never touches the dedup store: it is a liveness probe, not
// a readiness probe, and must stay responsive even if storage is slow.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "healthy",
		QueueSize:      s.queue.Len(),
		ProcessedCount: s.processedCount.Load(),
	})
}
