package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the single-process Store used in dev and test profiles.
type MemoryStore struct {
	ttl      time.Duration
	maxTurns int
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewMemoryStore(ttl time.Duration, maxTurns int) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		maxTurns: maxTurns,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

func (s *MemoryStore) Create(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	now := s.now()
	s.sessions[id] = &Session{ID: id, CreatedAt: now, LastActiveAt: now}
	return id, nil
}

func (s *MemoryStore) Append(_ context.Context, id string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.live(id)
	if !ok {
		return ErrSessionExpired
	}
	session.Turns = trimTurns(append(session.Turns, turn), s.maxTurns)
	session.LastActiveAt = s.now()
	return nil
}

func (s *MemoryStore) History(_ context.Context, id string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.live(id)
	if !ok {
		return nil, ErrSessionExpired
	}
	turns := make([]Turn, len(session.Turns))
	copy(turns, session.Turns)
	return turns, nil
}

func (s *MemoryStore) Touch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.live(id)
	if !ok {
		return ErrSessionExpired
	}
	session.LastActiveAt = s.now()
	return nil
}

// live returns the session and evicts it when the inactivity TTL has passed.
// Callers must hold the mutex.
func (s *MemoryStore) live(id string) (*Session, bool) {
	session, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if s.ttl > 0 && s.now().Sub(session.LastActiveAt) > s.ttl {
		delete(s.sessions, id)
		return nil, false
	}
	return session, true
}
