package store

import (
	"strings"

	"vn.io.arda/notification-engine/internal/domain"
)

// Filter narrows View. The zero value returns everything.
type Filter struct {
	Categories []domain.Category
	UnreadOnly bool
	// Query matches title, body or sender name, case-insensitively.
	Query  string
	Limit  int
	Offset int
}

func (f Filter) match(r *domain.Record, query string) bool {
	if f.UnreadOnly && r.IsRead {
		return false
	}
	if len(f.Categories) > 0 {
		found := false
		for _, c := range f.Categories {
			if c == r.Category {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if query == "" {
		return true
	}
	if strings.Contains(strings.ToLower(r.Title), query) || strings.Contains(strings.ToLower(r.Body), query) {
		return true
	}
	return r.Sender != nil && strings.Contains(strings.ToLower(r.Sender.Name), query)
}

// View returns the records matching f, newest first.
func (s *Store) View(f Filter) []domain.Record {
	query := strings.ToLower(strings.TrimSpace(f.Query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Record, 0, min(len(s.ordered), max(f.Limit, 0)))
	skipped := 0
	for _, r := range s.ordered {
		if !f.match(r, query) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, copyRecord(r))
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// IDs returns the ordered ids of every record.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, len(s.ordered))
	for i, r := range s.ordered {
		ids[i] = r.ID
	}
	return ids
}
