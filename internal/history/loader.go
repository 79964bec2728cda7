// Package history performs the one-shot paginated fetch of existing
// notifications. A page is normalized as a whole: either every usable item
// is returned or, on a transport error, nothing is.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"vn.io.arda/notification-engine/internal/domain"
	"vn.io.arda/notification-engine/internal/normalize"
)

// DefaultPageSize matches the backend's default list limit.
const DefaultPageSize = 20

// Loader fetches and normalizes history pages.
type Loader struct {
	src      domain.HistorySource
	pageSize int
	now      func() time.Time
}

// NewLoader creates a Loader. pageSize <= 0 uses DefaultPageSize.
func NewLoader(src domain.HistorySource, pageSize int) *Loader {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Loader{src: src, pageSize: pageSize, now: time.Now}
}

// WithClock returns a copy of l using now for missing timestamps.
func (l *Loader) WithClock(now func() time.Time) *Loader {
	cp := *l
	cp.now = now
	return &cp
}

// PageSize returns the configured page size.
func (l *Loader) PageSize() int { return l.pageSize }

// Load fetches the first page.
func (l *Loader) Load(ctx context.Context) ([]domain.Record, error) {
	return l.LoadPage(ctx, 0)
}

// LoadPage fetches the page starting at offset.
func (l *Loader) LoadPage(ctx context.Context, offset int) ([]domain.Record, error) {
	items, err := l.src.FetchPage(ctx, domain.Page{Limit: l.pageSize, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("fetch notification history: %w", err)
	}

	now := l.now()
	out := make([]domain.Record, 0, len(items))
	for i, raw := range items {
		r, err := normalize.Object(raw, now)
		if err != nil {
			log.Warn().Err(err).Int("index", i).Int("offset", offset).Msg("history: dropping malformed item")
			continue
		}
		r.Origin = domain.OriginHistory
		out = append(out, r)
	}

	log.Debug().Int("offset", offset).Int("fetched", len(items)).Int("kept", len(out)).Msg("history: page loaded")
	return out, nil
}
