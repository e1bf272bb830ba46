// Package eventmodel defines the shape of publish payloads and stored
// records, and the validation rules a submitted event must satisfy before
// it is admitted to the ingestion queue.
package eventmodel

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MaxBatchSize is the largest number of events a single publish request
// may carry.
const MaxBatchSize = 1000

// ErrInvalidEvent wraps a specific field failure. Callers that need to
// distinguish a validation failure from a lower-level error should use
// errors.Is / errors.As against ErrInvalidEvent.
var ErrInvalidEvent = errors.New("eventmodel: invalid event")

// ErrEmptyBatch is returned when a publish request carries zero events.
var ErrEmptyBatch = fmt.Errorf("%w: batch must contain at least one event", ErrInvalidEvent)

// ErrBatchTooLarge is returned when a publish request exceeds MaxBatchSize.
var ErrBatchTooLarge = fmt.Errorf("%w: batch exceeds %d events", ErrInvalidEvent, MaxBatchSize)

// Event is a publisher-supplied record, as received on the wire. Payload is
// kept as raw JSON bytes so it is never re-serialized and never risks
// reordering object keys.
type Event struct {
	Topic     string          `json:"topic"`
	EventID   string          `json:"event_id"`
	Timestamp string          `json:"timestamp"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload"`
}

// Key identifies an event independent of any other field.
type Key struct {
	Topic   string
	EventID string
}

// Key returns the event's identity pair.
func (e Event) Key() Key {
	return Key{Topic: e.Topic, EventID: e.EventID}
}

// StoredEvent is the durable record written on first sight of an Event.
type StoredEvent struct {
	Topic       string          `json:"topic"`
	EventID     string          `json:"event_id"`
	Timestamp   string          `json:"timestamp"`
	Source      string          `json:"source"`
	Payload     json.RawMessage `json:"payload"`
	ProcessedAt string          `json:"processed_at"`
}

// Validate checks the field constraints from the ingress schema: required
// non-empty (after trim) strings, a JSON-object payload, and a basic
// ISO-8601 shape on the timestamp. It does not touch the dedup store.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Topic) == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.EventID) == "" {
		return fmt.Errorf("%w: event_id is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.Source) == "" {
		return fmt.Errorf("%w: source is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.Timestamp) == "" {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidEvent)
	}
	if !looksLikeISO8601(e.Timestamp) {
		return fmt.Errorf("%w: timestamp %q is not ISO-8601 shaped", ErrInvalidEvent, e.Timestamp)
	}
	if err := validatePayloadObject(e.Payload); err != nil {
		return err
	}
	return nil
}

// ValidateBatch checks the batch-size bound and validates every event in
// it. max bounds the batch size; callers pass their configured limit
// (typically config.Config.BatchMax). A non-positive max falls back to
// MaxBatchSize. It stops at the first invalid event; the whole request is
// rejected.
func ValidateBatch(events []Event, max int) error {
	if max <= 0 {
		max = MaxBatchSize
	}
	if len(events) == 0 {
		return ErrEmptyBatch
	}
	if len(events) > max {
		if max == MaxBatchSize {
			return ErrBatchTooLarge
		}
		return fmt.Errorf("%w: batch exceeds %d events", ErrInvalidEvent, max)
	}
	for i, e := range events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}

// validatePayloadObject requires payload to decode as a JSON object: not a
// scalar, array, or null. Nested shape inside the object is unconstrained.
func validatePayloadObject(payload json.RawMessage) error {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "null" {
		return fmt.Errorf("%w: payload is required", ErrInvalidEvent)
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil {
		return fmt.Errorf("%w: payload must be a JSON object", ErrInvalidEvent)
	}
	return nil
}

// looksLikeISO8601 performs a cheap shape check rather than a full parse:
// YYYY-MM-DDTHH:MM:SS (a space is also accepted in place of the T) with an
// optional fractional-second component,
// terminated by Z or a +HH:MM / -HH:MM offset. The timestamp is preserved
// verbatim regardless; this only rejects obviously malformed input.
func looksLikeISO8601(ts string) bool {
	if len(ts) < len("2006-01-02T15:04:05Z") {
		return false
	}
	if ts[4] != '-' || ts[7] != '-' || (ts[10] != 'T' && ts[10] != ' ') {
		return false
	}
	if ts[13] != ':' || ts[16] != ':' {
		return false
	}
	rest := ts[19:]
	if rest == "" {
		return false
	}
	if rest[0] == '.' {
		i := 1
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		rest = rest[i:]
	}
	if rest == "Z" {
		return true
	}
	if len(rest) == 6 && (rest[0] == '+' || rest[0] == '-') && rest[3] == ':' {
		return true
	}
	return false
}
