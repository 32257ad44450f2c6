package session

import (
	"sync"
)

// Store is the ordered, append-only message sequence for one open
// conversation. It is fed from two sources: the history loader installs a
// bulk batch once per session, and the live channel appends incrementally.
// Arrival order is preserved within each source; no deduplication is applied
// across sources.
type Store struct {
	mu            sync.Mutex
	messages      []Message
	historyLoaded bool
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{}
}

// Append adds one live message in arrival order
func (s *Store) Append(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// PrependHistory installs the history batch ahead of any live messages that
// arrived while the fetch was in flight. It is a no-op after the first call;
// history loads at most once per session.
func (s *Store) PrependHistory(history []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyLoaded {
		return
	}
	s.historyLoaded = true
	if len(history) == 0 {
		return
	}

	merged := make([]Message, 0, len(history)+len(s.messages))
	merged = append(merged, history...)
	merged = append(merged, s.messages...)
	s.messages = merged
}

// HistoryLoaded reports whether the history batch has been installed
func (s *Store) HistoryLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLoaded
}

// Snapshot returns a copy of the current sequence for rendering
func (s *Store) Snapshot() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of stored messages
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Clear discards all messages and the history marker
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.historyLoaded = false
}
