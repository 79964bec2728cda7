package frames

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"vn.io.arda/notification-engine/internal/normalize"
)

func init() {
	Register(string(KindNotification), decodeNotification)
	Register(string(KindUnreadCount), decodeUnreadCount)
}

// payloadKeys are the wrappers backends use around the notification body.
var payloadKeys = []string{"data", "notification", "payload"}

func decodeNotification(data []byte, now time.Time) (Event, bool) {
	rec, err := normalize.Object(notificationBody(data), now)
	if err != nil {
		log.Warn().Err(err).Msg("frames: dropping notification frame")
		return Event{}, false
	}
	return Event{Kind: KindNotification, Record: rec}, true
}

// notificationBody picks the object holding the notification fields. Frames
// with inline fields keep them even when a metadata object sits under one of
// the wrapper keys; a wrapper wins only when it is a full notification itself.
func notificationBody(data []byte) []byte {
	inline := hasAny(gjson.ParseBytes(data), normalize.IDKeys, normalize.TitleKeys, normalize.BodyKeys)
	for _, k := range payloadKeys {
		v := gjson.GetBytes(data, k)
		if !v.IsObject() {
			continue
		}
		if !inline || (hasAny(v, normalize.IDKeys) && hasAny(v, normalize.TitleKeys, normalize.BodyKeys)) {
			return []byte(v.Raw)
		}
	}
	return data
}

func hasAny(obj gjson.Result, keySets ...[]string) bool {
	for _, keys := range keySets {
		for _, k := range keys {
			if v := obj.Get(k); v.Exists() && v.Type != gjson.Null {
				return true
			}
		}
	}
	return false
}

func decodeUnreadCount(data []byte, _ time.Time) (Event, bool) {
	for _, path := range []string{"count", "data.count", "unread_count"} {
		v := gjson.GetBytes(data, path)
		if v.Exists() && v.Type == gjson.Number && v.Int() >= 0 {
			return Event{Kind: KindUnreadCount, UnreadCount: int(v.Int())}, true
		}
	}
	log.Warn().Msg("frames: dropping unread_count frame without count")
	return Event{}, false
}
