package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// CookieName carries the session ID.
	CookieName = "harborguide_session"

	DefaultIdleTimeout = 12 * time.Hour

	// DefaultSweepInterval spaces the sweeps Resolve runs on its own.
	DefaultSweepInterval = time.Minute

	refreshDivisor = 4
)

// Transcripts is the transcript store as seen by the registry: a visited
// session's transcript is touched so it outlives the session, and an
// expired session's transcript is cleared.
type Transcripts interface {
	Touch(ctx context.Context, sessionID string) error
	Clear(ctx context.Context, sessionID string) error
}

// TranscriptTTL is the store TTL to pair with an idle timeout. Lookups
// touch the transcript at least every idle/4, so a transcript living
// idle+idle/4 past its last touch outlasts the session.
func TranscriptTTL(idle time.Duration) time.Duration {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return idle + idle/refreshDivisor
}

// Manager is the registry of live sessions.
type Manager struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	idle       time.Duration
	sweepEvery time.Duration
	lastSweep  time.Time
	store      Transcripts
	secure     bool
	logger     zerolog.Logger
	now        func() time.Time
	newID      func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithIdleTimeout sets how long an untouched session lives.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idle = d
		}
	}
}

// withSweepInterval sets how often Resolve sweeps idle sessions.
func withSweepInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sweepEvery = d
		}
	}
}

// WithSecureCookie marks the session cookie Secure.
func WithSecureCookie(secure bool) Option {
	return func(m *Manager) { m.secure = secure }
}

// WithLogger sets the manager logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func withClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func withIDs(newID func() string) Option {
	return func(m *Manager) { m.newID = newID }
}

// NewManager returns an empty registry. store may be nil when transcripts
// are not persisted.
func NewManager(store Transcripts, opts ...Option) *Manager {
	m := &Manager{
		sessions:   make(map[string]*Session),
		idle:       DefaultIdleTimeout,
		sweepEvery: DefaultSweepInterval,
		store:      store,
		logger:     zerolog.Nop(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastSweep = m.now()
	m.logger = m.logger.With().Str("component", "session").Logger()
	return m
}

// lookup returns the session for id. An unknown id is adopted so sessions
// survive across processes sharing a transcript store. An expired id is
// dropped together with its transcript.
func (m *Manager) lookup(ctx context.Context, id string) (*Session, bool) {
	now := m.now()
	m.mu.Lock()
	s, ok := m.sessions[id]
	switch {
	case !ok:
		s = New(id, now)
		m.sessions[id] = s
		m.mu.Unlock()
		m.refresh(ctx, id)
		return s, true
	case s.idleSince(now) >= m.idle:
		delete(m.sessions, id)
		m.mu.Unlock()
		m.clear(ctx, id)
		return nil, false
	default:
		s.touch(now)
		due := s.refreshDue(now, m.idle/refreshDivisor)
		m.mu.Unlock()
		if due {
			m.refresh(ctx, id)
		}
		return s, true
	}
}

// refresh restarts the stored transcript's TTL.
func (m *Manager) refresh(ctx context.Context, id string) {
	if m.store == nil {
		return
	}
	if err := m.store.Touch(ctx, id); err != nil {
		m.logger.Warn().Err(err).Str("session_id", id).Msg("touch transcript")
	}
}

func (m *Manager) clear(ctx context.Context, id string) {
	if m.store == nil {
		return
	}
	if err := m.store.Clear(ctx, id); err != nil {
		m.logger.Warn().Err(err).Str("session_id", id).Msg("clear expired transcript")
	}
}

// Create registers a fresh empty session.
func (m *Manager) Create() *Session {
	s := New(m.newID(), m.now())
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.logger.Debug().Str("session_id", s.ID).Msg("session created")
	return s
}

// Resolve returns the session named by the request cookie, creating one and
// setting the cookie when it is missing, malformed or expired.
func (m *Manager) Resolve(w http.ResponseWriter, r *http.Request) *Session {
	s := m.resolve(w, r)
	// Sweeps must finish even if the visitor hangs up.
	m.maybeSweep(context.WithoutCancel(r.Context()))
	return s
}

func (m *Manager) resolve(w http.ResponseWriter, r *http.Request) *Session {
	if c, err := r.Cookie(CookieName); err == nil {
		if _, perr := uuid.Parse(c.Value); perr == nil {
			if s, ok := m.lookup(r.Context(), c.Value); ok {
				return s
			}
		}
	}
	s := m.Create()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    s.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return s
}

// Len reports the number of registered sessions, expired ones included.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// maybeSweep sweeps when the last sweep is at least one sweep interval old.
// Hosts without a Run loop, such as Lambda, rely on it to bound the registry.
func (m *Manager) maybeSweep(ctx context.Context) {
	now := m.now()
	m.mu.Lock()
	due := now.Sub(m.lastSweep) >= m.sweepEvery
	m.mu.Unlock()
	if due {
		m.Sweep(ctx)
	}
}

// Sweep removes idle sessions and clears their transcripts. It returns the
// number of sessions removed.
func (m *Manager) Sweep(ctx context.Context) int {
	now := m.now()
	var expired []string
	m.mu.Lock()
	m.lastSweep = now
	for id, s := range m.sessions {
		if s.idleSince(now) >= m.idle {
			expired = append(expired, id)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.clear(ctx, id)
	}
	if len(expired) > 0 {
		m.logger.Info().Int("expired", len(expired)).Msg("sessions swept")
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep(ctx)
		}
	}
}
