// Package postgres reads one user's inbox straight from the arda
// notification database. It implements domain.Backend for deployments where
// the engine sits next to the database instead of behind the REST API.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"vn.io.arda/notification-engine/internal/domain"
)

// querier is the subset of pgxpool.Pool the repository uses.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgxRows, error)
	QueryRow(ctx context.Context, sql string, args ...any) scannable
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository is the PostgreSQL implementation of domain.Backend, scoped to a
// single tenant and user.
type Repository struct {
	db        querier
	tenantKey string
	userID    string
	now       func() time.Time
}

var (
	_ domain.Backend       = (*Repository)(nil)
	_ domain.UnreadCounter = (*Repository)(nil)
)

// New creates a Repository over pool for the inbox of (tenantKey, userID).
func New(pool *pgxpool.Pool, tenantKey, userID string) *Repository {
	return newWithDB(poolDB{pool}, tenantKey, userID)
}

func newWithDB(db querier, tenantKey, userID string) *Repository {
	return &Repository{db: db, tenantKey: tenantKey, userID: userID, now: time.Now}
}

// FetchPage fetches one page of the inbox, newest first. Rows are returned
// as JSON objects in the same shape the REST API serves.
func (r *Repository) FetchPage(ctx context.Context, page domain.Page) ([]json.RawMessage, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, type, title, body, metadata, is_read, read_at, created_at
		FROM notifications
		WHERE tenant_key = $1 AND user_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`, r.tenantKey, r.userID, limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var results []json.RawMessage
	for rows.Next() {
		raw, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return results, nil
}

// MarkRead marks a single notification as read. Unknown or already-read ids
// succeed.
func (r *Repository) MarkRead(ctx context.Context, id string) error {
	uid, ok := parseID(id)
	if !ok {
		return nil
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = $1
		WHERE id = $2 AND tenant_key = $3 AND user_id = $4 AND is_read = FALSE
	`, r.now(), uid, r.tenantKey, r.userID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		log.Debug().Str("id", id).Msg("postgres: notification not found or already read")
	}
	return nil
}

// MarkAllRead marks every unread notification in the inbox as read.
func (r *Repository) MarkAllRead(ctx context.Context) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = $1
		WHERE tenant_key = $2 AND user_id = $3 AND is_read = FALSE
	`, r.now(), r.tenantKey, r.userID)
	if err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	log.Debug().Int64("marked", tag.RowsAffected()).Msg("postgres: marked all read")
	return nil
}

// Delete removes a notification. Deleting a missing row succeeds.
func (r *Repository) Delete(ctx context.Context, id string) error {
	uid, ok := parseID(id)
	if !ok {
		return nil
	}
	if _, err := r.db.Exec(ctx, `
		DELETE FROM notifications WHERE id = $1 AND tenant_key = $2 AND user_id = $3
	`, uid, r.tenantKey, r.userID); err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return nil
}

// UnreadCount returns the count of unread notifications in the inbox.
func (r *Repository) UnreadCount(ctx context.Context) (int, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE tenant_key = $1 AND user_id = $2 AND is_read = FALSE`,
		r.tenantKey, r.userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return int(count), nil
}

// parseID rejects ids the database cannot hold, such as locally synthesized
// ones. Those never exist server-side, so there is nothing to mutate.
func parseID(id string) (uuid.UUID, bool) {
	uid, err := uuid.Parse(id)
	if err != nil {
		log.Debug().Str("id", id).Msg("postgres: skipping non-uuid id")
		return uuid.Nil, false
	}
	return uid, true
}

type scannable interface {
	Scan(dest ...any) error
}

type pgxRows interface {
	scannable
	Next() bool
	Err() error
	Close()
}

// row mirrors the REST API's notification JSON.
type row struct {
	ID        uuid.UUID      `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	IsRead    bool           `json:"is_read"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func scanRow(s scannable) (json.RawMessage, error) {
	var n row
	var metaJSON []byte
	if err := s.Scan(&n.ID, &n.Type, &n.Title, &n.Body, &metaJSON, &n.IsRead, &n.ReadAt, &n.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &n.Metadata); err != nil {
			log.Warn().Err(err).Str("id", n.ID.String()).Msg("postgres: dropping unreadable notification metadata")
			n.Metadata = nil
		}
	}
	b, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}
	return b, nil
}

// poolDB adapts *pgxpool.Pool to querier.
type poolDB struct {
	pool *pgxpool.Pool
}

func (p poolDB) Query(ctx context.Context, sql string, args ...any) (pgxRows, error) {
	return p.pool.Query(ctx, sql, args...)
}

func (p poolDB) QueryRow(ctx context.Context, sql string, args ...any) scannable {
	return p.pool.QueryRow(ctx, sql, args...)
}

func (p poolDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return p.pool.Exec(ctx, sql, args...)
}
