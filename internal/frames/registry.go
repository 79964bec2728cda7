// Package frames provides a lightweight decoder registry for live-stream frames.
// Each frame kind registers itself via init(), so transports never need to
// know which frame types exist.
package frames

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"vn.io.arda/notification-engine/internal/domain"
)

// Kind is the normalized frame kind.
type Kind string

const (
	KindNotification Kind = "notification"
	KindUnreadCount  Kind = "unread_count"
)

// Event is a decoded, normalized live-stream frame.
type Event struct {
	Kind        Kind
	Record      domain.Record
	UnreadCount int
}

// Decoder maps a raw frame to an Event. Returning false drops the frame.
type Decoder func(data []byte, now time.Time) (Event, bool)

var (
	mu       sync.RWMutex
	decoders = map[string]Decoder{}
)

// Register binds a decoder to a frame "type" value.
// Should be called from init(); panics on duplicate registration.
func Register(frameType string, d Decoder) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := decoders[frameType]; exists {
		panic("frames: duplicate decoder registered for type: " + frameType)
	}
	decoders[frameType] = d
}

// Decode probes the "type" field and hands the frame to its decoder.
// Frames that are not JSON objects are logged and dropped; frames of an
// unknown type are ignored.
func Decode(data []byte, now time.Time) (Event, bool) {
	if !gjson.ValidBytes(data) {
		log.Warn().Int("bytes", len(data)).Msg("frames: dropping malformed frame")
		return Event{}, false
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		log.Warn().Str("json_type", root.Type.String()).Msg("frames: dropping non-object frame")
		return Event{}, false
	}

	frameType := root.Get("type").String()
	mu.RLock()
	d, ok := decoders[frameType]
	mu.RUnlock()
	if !ok {
		log.Debug().Str("type", frameType).Msg("frames: ignoring unknown frame type")
		return Event{}, false
	}
	return d(data, now)
}

// Envelope wraps a payload that arrived without a "type" (SSE event data,
// Kafka record values) into a frame of the given type.
func Envelope(frameType string, payload []byte) []byte {
	if gjson.GetBytes(payload, "type").String() == frameType {
		return payload
	}
	out := make([]byte, 0, len(payload)+len(frameType)+20)
	out = append(out, `{"type":`...)
	out = appendQuoted(out, frameType)
	out = append(out, `,"data":`...)
	if len(payload) == 0 {
		out = append(out, "null"...)
	} else {
		out = append(out, payload...)
	}
	return append(out, '}')
}

func appendQuoted(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' {
			dst = append(dst, '\\')
		}
		if c < 0x20 {
			continue
		}
		dst = append(dst, c)
	}
	return append(dst, '"')
}
