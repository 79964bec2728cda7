package store

import "github.com/rs/zerolog/log"

// ChangeKind classifies a store change.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
	// ChangeReset means many records changed; re-read the whole view.
	ChangeReset ChangeKind = "reset"
)

// Change is published to subscribers after every mutation.
type Change struct {
	Kind   ChangeKind `json:"kind"`
	ID     string     `json:"id,omitempty"`
	Unread int        `json:"unread"`
}

// Subscribe returns a buffered change feed and a function that cancels it.
// Slow subscribers miss changes rather than block the store.
func (s *Store) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 32)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

func (s *Store) publish(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- c:
		default:
			log.Warn().Str("kind", string(c.Kind)).Msg("store: subscriber buffer full, skipping change")
		}
	}
}
