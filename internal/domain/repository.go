package domain

import (
	"context"
	"encoding/json"
)

// Page selects one slice of the notification history.
type Page struct {
	Limit  int
	Offset int
}

// HistorySource is the port for the paginated notification history.
// Items are returned raw; normalization happens in the engine.
type HistorySource interface {
	FetchPage(ctx context.Context, page Page) ([]json.RawMessage, error)
}

// Mutator is the port for the backend mutation endpoints.
// Every call is idempotent: repeating it on the same target must not fail.
type Mutator interface {
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
}

// Backend is everything the engine needs from the notification backend.
// Implementations live in infrastructure/rest and infrastructure/postgres.
type Backend interface {
	HistorySource
	Mutator
}

// UnreadCounter is implemented by backends that can report the server-side
// unread total. The engine treats it as a hint only.
type UnreadCounter interface {
	UnreadCount(ctx context.Context) (int, error)
}

// CredentialSource yields the auth credential used for the stream and backend.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
}
