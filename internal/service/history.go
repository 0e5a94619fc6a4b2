package service

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/finchat/assistant/internal/model"
)

// DefaultMaxHistorySessions bounds how many sessions keep history at once.
const DefaultMaxHistorySessions = 10000

// HistoryOption configures a HistoryStore.
type HistoryOption func(*HistoryStore)

// WithMaxSessions caps the number of sessions with retained history. The
// least recently used session is dropped when the cap is reached.
func WithMaxSessions(n int) HistoryOption {
	return func(s *HistoryStore) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

// HistoryStore retains the most recent user/assistant exchanges per session
// in memory. Nothing survives a restart.
type HistoryStore struct {
	limit       int
	maxSessions int

	// mu makes Append's read-modify-write atomic; the cache itself is
	// already safe for concurrent use.
	mu       sync.Mutex
	sessions *lru.Cache[string, model.Conversation]
}

// NewHistoryStore creates a store keeping at most limit messages per session.
// A limit of zero disables retention.
func NewHistoryStore(limit int, opts ...HistoryOption) *HistoryStore {
	s := &HistoryStore{
		limit:       limit,
		maxSessions: DefaultMaxHistorySessions,
	}
	for _, opt := range opts {
		opt(s)
	}
	if limit > 0 {
		// Only fails for a non-positive size, which the options rule out.
		s.sessions, _ = lru.New[string, model.Conversation](s.maxSessions)
	}
	return s
}

func (s *HistoryStore) enabled() bool {
	return s != nil && s.sessions != nil
}

// Get returns a copy of the session's retained messages.
func (s *HistoryStore) Get(sessionID string) model.Conversation {
	if !s.enabled() || sessionID == "" {
		return nil
	}

	h, _ := s.sessions.Get(sessionID)
	return h.Clone()
}

// Append adds messages and trims the session to the configured window.
func (s *HistoryStore) Append(sessionID string, msgs ...model.Message) {
	if !s.enabled() || sessionID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, _ := s.sessions.Peek(sessionID)
	h := append(prev.Clone(), msgs...)
	if len(h) > s.limit {
		h = h[len(h)-s.limit:]
	}
	s.sessions.Add(sessionID, h)
}

// Forget drops a session's history.
func (s *HistoryStore) Forget(sessionID string) {
	if !s.enabled() {
		return
	}

	s.mu.Lock()
	s.sessions.Remove(sessionID)
	s.mu.Unlock()
}

// Len returns the number of sessions with retained history.
func (s *HistoryStore) Len() int {
	if !s.enabled() {
		return 0
	}
	return s.sessions.Len()
}
