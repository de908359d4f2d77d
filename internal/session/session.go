// Package session holds the per-visitor context that every dashboard and
// chat operation receives explicitly.
package session

import (
	"strings"
	"sync"
	"time"
)

// Health is the outcome of the most recent backend health check.
type Health int

const (
	HealthUnknown Health = iota
	HealthUp
	HealthDown
)

func (h Health) String() string {
	switch h {
	case HealthUp:
		return "up"
	case HealthDown:
		return "down"
	default:
		return "unknown"
	}
}

// Session is one visitor's state. Backend calls that mutate the transcript
// are serialized through BeginAsk.
type Session struct {
	ID string

	askMu sync.Mutex

	mu         sync.RWMutex
	backendURL string
	health     Health
	checkedAt  time.Time
	pending    bool
	lastSeen   time.Time
	refreshed  time.Time
}

// New returns an empty session.
func New(id string, now time.Time) *Session {
	return &Session{ID: id, lastSeen: now, refreshed: now}
}

// BackendURL returns the session override, or fallback when none is set.
func (s *Session) BackendURL(fallback string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.backendURL != "" {
		return s.backendURL
	}
	return fallback
}

// SetBackendURL stores the sidebar override. A changed address invalidates
// the last health verdict.
func (s *Session) SetBackendURL(raw string) {
	url := strings.TrimRight(strings.TrimSpace(raw), "/")
	s.mu.Lock()
	defer s.mu.Unlock()
	if url != s.backendURL {
		s.health = HealthUnknown
		s.checkedAt = time.Time{}
	}
	s.backendURL = url
}

// RecordHealth stores a health verdict.
func (s *Session) RecordHealth(up bool, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if up {
		s.health = HealthUp
	} else {
		s.health = HealthDown
	}
	s.checkedAt = at
}

// Health returns the last verdict and when it was taken.
func (s *Session) Health() (Health, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health, s.checkedAt
}

// Healthy reports whether the last health check succeeded.
func (s *Session) Healthy() bool {
	h, _ := s.Health()
	return h == HealthUp
}

// BeginAsk blocks until no other question of this session is in flight and
// marks the session as awaiting an answer. The returned func marks it
// answered and must be called exactly once.
func (s *Session) BeginAsk() (done func()) {
	s.askMu.Lock()
	s.mu.Lock()
	s.pending = true
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.pending = false
			s.mu.Unlock()
			s.askMu.Unlock()
		})
	}
}

// Pending reports whether a question is awaiting its answer.
func (s *Session) Pending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.lastSeen)
}

// refreshDue reports whether the stored transcript was last refreshed at
// least every ago. A true result records now as the refresh time.
func (s *Session) refreshDue(now time.Time, every time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.refreshed) < every {
		return false
	}
	s.refreshed = now
	return true
}
