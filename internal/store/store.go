// Package store holds the authoritative in-memory set of notifications for
// one surface: ordered newest first, deduplicated by id, with an unread
// counter maintained incrementally.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"vn.io.arda/notification-engine/internal/domain"
)

// IngestResult tells the caller what Ingest did with a record.
type IngestResult struct {
	// Accepted is false for records without an id or deleted locally.
	Accepted bool
	// IsNew is true when the record was inserted rather than merged.
	IsNew bool
}

// Store is safe for concurrent use. It never blocks on I/O.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Record
	ordered []*domain.Record // sorted by domain.Record.Before
	unread  int
	// deleted maps tombstoned ids to the deleted record's creation time.
	deleted map[string]time.Time

	subMu sync.Mutex
	subs  map[chan Change]struct{}
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		byID:    make(map[string]*domain.Record),
		deleted: make(map[string]time.Time),
		subs:    make(map[chan Change]struct{}),
	}
}

// LoadInitial replaces the store content with a freshly fetched page.
//
// Copies already known are merged so local read state survives, records that
// arrived on the live stream but are not on the page are kept, and ids
// deleted locally stay deleted. Tombstones older than the oldest record on
// the page are dropped afterwards, since a newest-first page can no longer
// bring them back.
func (s *Store) LoadInitial(records []domain.Record) {
	s.mu.Lock()
	old := s.byID
	s.byID = make(map[string]*domain.Record, len(records))
	s.ordered = s.ordered[:0]
	s.unread = 0

	var oldest time.Time
	for _, r := range records {
		if r.ID == "" {
			continue
		}
		if oldest.IsZero() || r.CreatedAt.Before(oldest) {
			oldest = r.CreatedAt
		}
		if _, gone := s.deleted[r.ID]; gone {
			continue
		}
		if prev, ok := old[r.ID]; ok {
			r = domain.Merge(*prev, r)
		}
		s.putLocked(r)
	}
	for id, prev := range old {
		if _, ok := s.byID[id]; ok || prev.Origin != domain.OriginLive {
			continue
		}
		s.putLocked(*prev)
	}
	if !oldest.IsZero() {
		for id, at := range s.deleted {
			if at.Before(oldest) {
				delete(s.deleted, id)
			}
		}
	}
	unread := s.unread
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeReset, Unread: unread})
}

// Ingest is the single insertion path for history and live records.
func (s *Store) Ingest(r domain.Record) IngestResult {
	if r.ID == "" {
		return IngestResult{}
	}

	s.mu.Lock()
	if _, gone := s.deleted[r.ID]; gone {
		s.mu.Unlock()
		log.Debug().Str("id", r.ID).Msg("store: ignoring record deleted locally")
		return IngestResult{}
	}

	prev, exists := s.byID[r.ID]
	if !exists {
		s.putLocked(r)
		unread := s.unread
		s.mu.Unlock()
		s.publish(Change{Kind: ChangeInsert, ID: r.ID, Unread: unread})
		return IngestResult{Accepted: true, IsNew: true}
	}

	merged := domain.Merge(*prev, r)
	changed := !sameRecord(merged, *prev)
	if changed {
		s.removeLocked(r.ID)
		s.putLocked(merged)
	}
	unread := s.unread
	s.mu.Unlock()

	if changed {
		s.publish(Change{Kind: ChangeUpdate, ID: r.ID, Unread: unread})
	}
	return IngestResult{Accepted: true}
}

// MarkRead marks one record read. It reports whether anything changed.
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	r, ok := s.byID[id]
	if !ok || r.IsRead {
		s.mu.Unlock()
		return false
	}
	r.IsRead = true
	s.unread--
	unread := s.unread
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeUpdate, ID: id, Unread: unread})
	return true
}

// MarkAllRead marks every record read and returns the ids that changed.
func (s *Store) MarkAllRead() []string {
	s.mu.Lock()
	var changed []string
	for _, r := range s.ordered {
		if !r.IsRead {
			r.IsRead = true
			changed = append(changed, r.ID)
		}
	}
	s.unread = 0
	s.mu.Unlock()

	if len(changed) > 0 {
		s.publish(Change{Kind: ChangeReset})
	}
	return changed
}

// Delete removes a record and remembers its id so late duplicates from the
// stream or an in-flight history page do not bring it back. An unknown id
// is remembered only until the next LoadInitial.
func (s *Store) Delete(id string) (domain.Record, bool) {
	s.mu.Lock()
	r, ok := s.byID[id]
	if !ok {
		s.deleted[id] = time.Time{}
		s.mu.Unlock()
		return domain.Record{}, false
	}
	s.deleted[id] = r.CreatedAt
	out := *r
	s.removeLocked(id)
	unread := s.unread
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeDelete, ID: id, Unread: unread})
	return out, true
}

// UnreadCount returns the number of records with IsRead == false.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ordered)
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(id string) (domain.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return domain.Record{}, false
	}
	return copyRecord(r), true
}

// putLocked inserts r at its ordered position. r.ID must not be present.
func (s *Store) putLocked(r domain.Record) {
	rec := &r
	i := sort.Search(len(s.ordered), func(i int) bool { return rec.Before(*s.ordered[i]) })
	s.ordered = append(s.ordered, nil)
	copy(s.ordered[i+1:], s.ordered[i:])
	s.ordered[i] = rec
	s.byID[r.ID] = rec
	if !r.IsRead {
		s.unread++
	}
}

func (s *Store) removeLocked(id string) {
	rec, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	i := sort.Search(len(s.ordered), func(i int) bool { return !s.ordered[i].Before(*rec) })
	for ; i < len(s.ordered); i++ {
		if s.ordered[i] == rec {
			s.ordered = append(s.ordered[:i], s.ordered[i+1:]...)
			break
		}
	}
	if !rec.IsRead {
		s.unread--
	}
}

func copyRecord(r *domain.Record) domain.Record {
	out := *r
	if r.Sender != nil {
		snd := *r.Sender
		out.Sender = &snd
	}
	return out
}

// sameRecord compares two records including the pointed-to sender.
func sameRecord(a, b domain.Record) bool {
	as, bs := a.Sender, b.Sender
	a.Sender, b.Sender = nil, nil
	if a != b {
		return false
	}
	if as == nil || bs == nil {
		return as == bs
	}
	return *as == *bs
}
