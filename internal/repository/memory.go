package repository

import (
	"context"
	"sync"
	"time"

	"harborguide/internal/domain"
)

type memoryTranscript struct {
	turns     []domain.ChatTurn
	expiresAt time.Time
}

// memoryStore keeps transcripts in a process-local map.
type memoryStore struct {
	mu          sync.Mutex
	transcripts map[string]*memoryTranscript
	ttl         time.Duration
	maxTurns    int
	now         func() time.Time
}

func newMemoryStore(cfg *storeConfig) *memoryStore {
	return &memoryStore{
		transcripts: make(map[string]*memoryTranscript),
		ttl:         cfg.ttl,
		maxTurns:    cfg.maxTurns,
		now:         cfg.now,
	}
}

func (s *memoryStore) Append(_ context.Context, sessionID string, turns ...domain.ChatTurn) error {
	if err := validateTurns(turns); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.live(sessionID)
	if t == nil {
		t = &memoryTranscript{}
		s.transcripts[sessionID] = t
	}
	t.turns = trimOldest(append(t.turns, turns...), s.maxTurns)
	t.expiresAt = s.now().Add(s.ttl)
	return nil
}

func (s *memoryStore) List(_ context.Context, sessionID string) ([]domain.ChatTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.live(sessionID)
	if t == nil {
		return []domain.ChatTurn{}, nil
	}
	out := make([]domain.ChatTurn, len(t.turns))
	copy(out, t.turns)
	return out, nil
}

func (s *memoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transcripts, sessionID)
	return nil
}

func (s *memoryStore) Touch(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.live(sessionID); t != nil {
		t.expiresAt = s.now().Add(s.ttl)
	}
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = make(map[string]*memoryTranscript)
	return nil
}

// live returns the transcript for id, dropping it first if expired.
// Callers hold s.mu.
func (s *memoryStore) live(id string) *memoryTranscript {
	t, ok := s.transcripts[id]
	if !ok {
		return nil
	}
	if !s.now().Before(t.expiresAt) {
		delete(s.transcripts, id)
		return nil
	}
	return t
}
