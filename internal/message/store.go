package message

import (
	"iter"
	"slices"
	"sync"
)

// Store is the ordered in-memory message log for one chat session.
type Store struct {
	mu   sync.RWMutex
	msgs []Message
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// LoadHistory replaces the content with msgs sorted ascending by CreatedAt.
// Messages with equal timestamps keep their relative order.
func (s *Store) LoadHistory(msgs []Message) {
	sorted := slices.Clone(msgs)
	slices.SortStableFunc(sorted, func(a, b Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	s.mu.Lock()
	s.msgs = sorted
	s.mu.Unlock()
}

// Append adds a message to the end of the log. No deduplication by id is
// performed.
func (s *Store) Append(m Message) {
	s.mu.Lock()
	s.msgs = append(s.msgs, m)
	s.mu.Unlock()
}

// All returns a chronological view of the log. Each iteration reads a
// snapshot taken when it starts, so the sequence can be ranged over again
// to observe later appends.
func (s *Store) All() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		s.mu.RLock()
		snapshot := slices.Clone(s.msgs)
		s.mu.RUnlock()

		for _, m := range snapshot {
			if !yield(m) {
				return
			}
		}
	}
}

// Len returns the number of messages in the log.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// Clear empties the log.
func (s *Store) Clear() {
	s.mu.Lock()
	s.msgs = nil
	s.mu.Unlock()
}
