package dedupstore

import "bytes"

// Keyspace layout (byte-wise, lexicographically sortable by construction,
// though only the topic-scan property is actually relied on — result
// ordering is a query-time sort, not a storage-order guarantee):
//
//	mark/{topic}/{event_id}   -> processed marker (first_seen_at, RFC3339Nano)
//	pay/{topic}/{event_id}    -> stored event JSON
//	cnt/{name}                -> big-endian uint64 counter value
//	topic/{topic}             -> empty marker, presence means topic observed

var (
	markPrefix  = []byte("mark/")
	payPrefix   = []byte("pay/")
	cntPrefix   = []byte("cnt/")
	topicPrefix = []byte("topic/")
	sep         = byte('/')
)

func markerKey(topic, eventID string) []byte {
	k := make([]byte, 0, len(markPrefix)+len(topic)+len(eventID)+1)
	k = append(k, markPrefix...)
	k = append(k, topic...)
	k = append(k, sep)
	k = append(k, eventID...)
	return k
}

func payloadKey(topic, eventID string) []byte {
	k := make([]byte, 0, len(payPrefix)+len(topic)+len(eventID)+1)
	k = append(k, payPrefix...)
	k = append(k, topic...)
	k = append(k, sep)
	k = append(k, eventID...)
	return k
}

// payloadPrefix returns the scan prefix for all stored events, or for a
// single topic's stored events when topic is non-empty.
func payloadPrefix(topic string) []byte {
	if topic == "" {
		return append([]byte(nil), payPrefix...)
	}
	k := make([]byte, 0, len(payPrefix)+len(topic)+1)
	k = append(k, payPrefix...)
	k = append(k, topic...)
	k = append(k, sep)
	return k
}

// splitMarkerKey recovers (topic, event_id) from a marker key by splitting
// at the first '/' after the prefix. Topics are not checked for '/', so a
// topic containing one is split at the wrong place; payloadKey rebuilds the
// same bytes from either split, which is what reconcileOrphans relies on.
func splitMarkerKey(key []byte) (topic, eventID string, ok bool) {
	if !bytes.HasPrefix(key, markPrefix) {
		return "", "", false
	}
	rest := key[len(markPrefix):]
	idx := bytes.IndexByte(rest, sep)
	if idx < 0 {
		return "", "", false
	}
	return string(rest[:idx]), string(rest[idx+1:]), true
}

func counterKey(name string) []byte {
	k := make([]byte, 0, len(cntPrefix)+len(name))
	k = append(k, cntPrefix...)
	k = append(k, name...)
	return k
}

func topicKey(topic string) []byte {
	k := make([]byte, 0, len(topicPrefix)+len(topic))
	k = append(k, topicPrefix...)
	k = append(k, topic...)
	return k
}

// prefixUpperBound returns the smallest key greater than every key sharing
// prefix, for use as an exclusive Pebble iterator bound.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
