// Package normalize turns any plausible notification JSON shape into a
// domain.Record. Backends disagree on field names (message vs description,
// unread vs is_read, ...); normalization accepts all of them and substitutes
// defaults for whatever is missing, so it never fails on a JSON object.
package normalize

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"vn.io.arda/notification-engine/internal/domain"
	"vn.io.arda/notification-engine/internal/messages"
)

// ErrNotObject is returned when the payload is not a JSON object.
var ErrNotObject = errors.New("normalize: payload is not a JSON object")

// SyntheticPrefix marks ids generated on the client.
const SyntheticPrefix = "local-"

// Field aliases accepted across backend versions.
var (
	IDKeys    = []string{"id", "_id", "notification_id", "notificationId", "uuid"}
	TitleKeys = []string{"title", "subject", "heading"}
	BodyKeys  = []string{"body", "message", "description", "content", "text"}
)

// Object decodes raw JSON and normalizes it.
func Object(raw []byte, now time.Time) (domain.Record, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return domain.Record{}, ErrNotObject
	}
	return Map(m, now), nil
}

// Map normalizes an already decoded object. now is used as the creation time
// when the payload carries no usable timestamp.
func Map(m map[string]any, now time.Time) domain.Record {
	var r domain.Record

	r.ID = text(m, IDKeys...)
	if r.ID == "" {
		r.ID = syntheticID()
		r.Defaulted |= domain.FieldID
	}

	r.Title = text(m, TitleKeys...)
	if r.Title == "" {
		r.Title = messages.DefaultTitle
		r.Defaulted |= domain.FieldTitle
	}

	r.Body = text(m, BodyKeys...)
	if r.Body == "" {
		r.Body = messages.NoMessage
		r.Defaulted |= domain.FieldBody
	}

	r.Category = category(m)
	if r.Category == "" {
		r.Category = domain.CategoryInfo
		r.Defaulted |= domain.FieldCategory
	}

	if v, ok := first(m, "created_at", "createdAt", "timestamp", "sent_at", "time", "date"); ok {
		if t, ok := parseTime(v); ok {
			r.CreatedAt = t
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now.UTC()
		r.Defaulted |= domain.FieldCreatedAt
	}

	r.IsRead = readState(m)
	r.ActionRef = actionRef(m)
	r.Sender = sender(m)
	return r
}

func syntheticID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return SyntheticPrefix + id.String()
}

func first(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// text returns the first key that coerces to a non-empty string.
func text(m map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func category(m map[string]any) domain.Category {
	c := strings.ToLower(text(m, "category", "notification_type", "notificationType", "kind", "level"))
	if c == "" {
		// "type" doubles as the frame kind on the live stream.
		if t := strings.ToLower(text(m, "type")); t != "notification" {
			c = t
		}
	}
	return domain.Category(c)
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case float64:
		return fromEpoch(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(f)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f)
		}
		parsed, err := cast.ToTimeE(s)
		if err != nil || parsed.IsZero() {
			return time.Time{}, false
		}
		return parsed.UTC(), true
	}
	return time.Time{}, false
}

// fromEpoch accepts unix seconds or milliseconds.
func fromEpoch(f float64) (time.Time, bool) {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

func readState(m map[string]any) bool {
	if v, ok := first(m, "is_read", "isRead", "read", "seen"); ok {
		if b, err := cast.ToBoolE(v); err == nil {
			return b
		}
	}
	if v, ok := first(m, "unread", "is_unread", "isUnread"); ok {
		if b, err := cast.ToBoolE(v); err == nil {
			return !b
		}
	}
	switch strings.ToLower(text(m, "status", "state")) {
	case "read", "seen", "archived":
		return true
	case "unread", "new":
		return false
	}
	return text(m, "read_at", "readAt") != ""
}

func actionRef(m map[string]any) string {
	if s := text(m, "action_ref", "actionRef", "action_url", "actionUrl", "link", "url", "href"); s != "" {
		return s
	}
	for _, k := range []string{"metadata", "data", "meta"} {
		if nested, ok := m[k].(map[string]any); ok {
			if s := text(nested, "action_ref", "action_url", "link", "url"); s != "" {
				return s
			}
		}
	}
	return ""
}

func sender(m map[string]any) *domain.Sender {
	if v, ok := first(m, "sender", "from", "actor"); ok {
		if obj, ok := v.(map[string]any); ok {
			s := domain.Sender{
				ID:     text(obj, "id", "_id", "user_id", "userId"),
				Name:   text(obj, "name", "display_name", "displayName", "full_name", "username"),
				Avatar: text(obj, "avatar", "avatar_url", "avatarUrl", "photo"),
			}
			if s != (domain.Sender{}) {
				return &s
			}
		} else if id, err := cast.ToStringE(v); err == nil && strings.TrimSpace(id) != "" {
			return &domain.Sender{ID: strings.TrimSpace(id)}
		}
	}
	s := domain.Sender{
		ID:   text(m, "sender_id", "senderId"),
		Name: text(m, "sender_name", "senderName"),
	}
	if s == (domain.Sender{}) {
		return nil
	}
	return &s
}
