package domain

import (
	"fmt"
	"time"

	"vn.io.arda/notification-engine/internal/messages"
)

// Category is the notification kind used for icon selection and filtering.
// Unknown categories coming from the backend are kept as-is (lower-cased).
type Category string

const (
	CategorySuccess Category = "success"
	CategoryError   Category = "error"
	CategoryWarning Category = "warning"
	CategoryChat    Category = "chat"
	CategoryGroup   Category = "group"
	CategoryAdmin   Category = "admin"
	CategorySystem  Category = "system"
	CategoryInfo    Category = "info"
	CategoryCreate  Category = "create"
	CategoryUpdate  Category = "update"
	CategoryDelete  Category = "delete"
	CategorySector  Category = "sector"
	CategoryCell    Category = "cell"
	CategoryVillage Category = "village"
)

// Origin tells how a record first reached the store.
type Origin uint8

const (
	OriginHistory Origin = iota
	OriginLive
)

// Field is a bit set of record fields that normalization had to default.
type Field uint8

const (
	FieldID Field = 1 << iota
	FieldTitle
	FieldBody
	FieldCategory
	FieldCreatedAt
)

// Sender is a back-reference to the actor that caused the notification.
type Sender struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Record is the canonical client-side notification.
type Record struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Category  Category  `json:"category"`
	CreatedAt time.Time `json:"created_at"`
	IsRead    bool      `json:"is_read"`
	ActionRef string    `json:"action_ref,omitempty"`
	Sender    *Sender   `json:"sender,omitempty"`

	Origin    Origin `json:"-"`
	Defaulted Field  `json:"-"`
}

// SyntheticID reports whether the id was generated locally.
func (r Record) SyntheticID() bool { return r.Defaulted&FieldID != 0 }

// TimeEstimated reports whether CreatedAt is the arrival time rather than
// a timestamp supplied by the backend.
func (r Record) TimeEstimated() bool { return r.Defaulted&FieldCreatedAt != 0 }

// Before reports whether r sorts ahead of o: newest first, then id descending.
func (r Record) Before(o Record) bool {
	if !r.CreatedAt.Equal(o.CreatedAt) {
		return r.CreatedAt.After(o.CreatedAt)
	}
	return r.ID > o.ID
}

// Merge combines two observations of the same notification. The result does
// not depend on argument order: read state only moves forward, defaulted
// fields are filled from the other copy and conflicting values resolve
// deterministically.
func Merge(a, b Record) Record {
	out := a
	out.IsRead = a.IsRead || b.IsRead
	out.Defaulted = 0

	var def bool
	out.Title, def = pickText(a.Title, b.Title, a.Defaulted&FieldTitle != 0, b.Defaulted&FieldTitle != 0)
	out.Defaulted |= flagIf(def, FieldTitle)

	out.Body, def = pickText(a.Body, b.Body, a.Defaulted&FieldBody != 0, b.Defaulted&FieldBody != 0)
	out.Defaulted |= flagIf(def, FieldBody)

	var cat string
	cat, def = pickText(string(a.Category), string(b.Category), a.Defaulted&FieldCategory != 0, b.Defaulted&FieldCategory != 0)
	out.Category = Category(cat)
	out.Defaulted |= flagIf(def, FieldCategory)

	out.ActionRef, _ = pickText(a.ActionRef, b.ActionRef, false, false)

	aEst, bEst := a.TimeEstimated(), b.TimeEstimated()
	switch {
	case aEst && !bEst:
		out.CreatedAt = b.CreatedAt
	case bEst && !aEst:
		out.CreatedAt = a.CreatedAt
	case b.CreatedAt.Before(a.CreatedAt):
		out.CreatedAt = b.CreatedAt
	default:
		out.CreatedAt = a.CreatedAt
	}
	out.Defaulted |= flagIf(aEst && bEst, FieldCreatedAt)
	out.Defaulted |= flagIf(a.SyntheticID() && b.SyntheticID(), FieldID)

	out.Sender = mergeSender(a.Sender, b.Sender)

	if b.Origin < a.Origin {
		out.Origin = b.Origin
	}
	return out
}

func pickText(a, b string, aDef, bDef bool) (string, bool) {
	switch {
	case a == b:
		return a, aDef && bDef
	case aDef && !bDef:
		return b, false
	case bDef && !aDef:
		return a, false
	case a == "":
		return b, bDef
	case b == "":
		return a, aDef
	case len(a) != len(b):
		if len(a) > len(b) {
			return a, aDef
		}
		return b, bDef
	case a > b:
		return a, aDef
	default:
		return b, bDef
	}
}

func mergeSender(a, b *Sender) *Sender {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		s := *b
		return &s
	case b == nil:
		s := *a
		return &s
	}
	s := Sender{}
	s.ID, _ = pickText(a.ID, b.ID, false, false)
	s.Name, _ = pickText(a.Name, b.Name, false, false)
	s.Avatar, _ = pickText(a.Avatar, b.Avatar, false, false)
	return &s
}

func flagIf(ok bool, f Field) Field {
	if ok {
		return f
	}
	return 0
}

// TimeLabel renders a short relative time for surfaces. Estimated or
// future timestamps read as "Just now".
func TimeLabel(t time.Time, estimated bool, now time.Time) string {
	d := now.Sub(t)
	switch {
	case estimated || d < time.Minute:
		return messages.JustNow
	case d < time.Hour:
		return fmt.Sprintf(messages.MinutesAgo, int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf(messages.HoursAgo, int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf(messages.DaysAgo, int(d/(24*time.Hour)))
	default:
		return t.Format("Jan 2, 2006")
	}
}
