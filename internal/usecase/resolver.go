package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"harborguide/internal/domain"
	"harborguide/internal/integrations/backend"
	"harborguide/internal/session"
)

const (
	defaultHealthTimeout = 5 * time.Second
	defaultKPITimeout    = 10 * time.Second
	defaultEmbedTimeout  = 20 * time.Second
	defaultAskTimeout    = 60 * time.Second
	defaultKPITTL        = 30 * time.Second
	defaultHealthMaxAge  = 30 * time.Second
)

// BackendClient is the subset of the backend client the resolver calls.
type BackendClient interface {
	Health(ctx context.Context, baseURL string) (bool, error)
	KPIs(ctx context.Context, baseURL string) (domain.KPISet, error)
	EmbedToken(ctx context.Context, baseURL string) (backend.EmbedTokenResponse, error)
	Ask(ctx context.Context, baseURL string, in backend.AskRequest) (backend.AskResponse, error)
}

// FallbackSource supplies static data when the backend cannot.
type FallbackSource interface {
	KPIs() domain.KPISet
	Answer(question string) string
}

// Timeouts bounds each backend operation.
type Timeouts struct {
	Health time.Duration
	KPIs   time.Duration
	Embed  time.Duration
	Ask    time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Health: defaultHealthTimeout,
		KPIs:   defaultKPITimeout,
		Embed:  defaultEmbedTimeout,
		Ask:    defaultAskTimeout,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Health <= 0 {
		t.Health = d.Health
	}
	if t.KPIs <= 0 {
		t.KPIs = d.KPIs
	}
	if t.Embed <= 0 {
		t.Embed = d.Embed
	}
	if t.Ask <= 0 {
		t.Ask = d.Ask
	}
	return t
}

// Resolver decides per interaction whether to use the backend or a static
// fallback. None of its operations block past their timeout or return an
// empty result.
type Resolver struct {
	backend      BackendClient
	fallback     FallbackSource
	defaultURL   string
	timeouts     Timeouts
	healthMaxAge time.Duration
	kpis         *kpiCache
	logger       zerolog.Logger
	now          func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

func WithTimeouts(t Timeouts) ResolverOption {
	return func(r *Resolver) { r.timeouts = t.withDefaults() }
}

// WithKPITTL sets how long a successful KPI response is reused.
func WithKPITTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.kpis.ttl = ttl
		}
	}
}

// WithHealthMaxAge sets how old a health verdict may be before it is
// re-checked ahead of a KPI or ask call.
func WithHealthMaxAge(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.healthMaxAge = d
		}
	}
}

func WithLogger(l zerolog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

func withClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.now = now
		r.kpis.now = now
	}
}

func NewResolver(b BackendClient, f FallbackSource, defaultURL string, opts ...ResolverOption) (*Resolver, error) {
	if b == nil {
		return nil, errors.New("usecase: backend client must not be nil")
	}
	if f == nil {
		return nil, errors.New("usecase: fallback source must not be nil")
	}
	defaultURL = strings.TrimRight(strings.TrimSpace(defaultURL), "/")
	if defaultURL == "" {
		return nil, errors.New("usecase: default backend URL must not be empty")
	}
	r := &Resolver{
		backend:      b,
		fallback:     f,
		defaultURL:   defaultURL,
		timeouts:     DefaultTimeouts(),
		healthMaxAge: defaultHealthMaxAge,
		kpis:         newKPICache(defaultKPITTL, time.Now),
		logger:       zerolog.Nop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "resolver").Logger()
	return r, nil
}

// BackendURL is the address the session's calls go to.
func (r *Resolver) BackendURL(sess *session.Session) string {
	return sess.BackendURL(r.defaultURL)
}

// CheckHealth asks the backend whether it is up and records the verdict on
// the session. Every failure reads as unhealthy.
func (r *Resolver) CheckHealth(ctx context.Context, sess *session.Session) bool {
	baseURL := r.BackendURL(sess)
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Health)
	defer cancel()

	ok, err := r.backend.Health(ctx, baseURL)
	if err != nil {
		r.logger.Debug().Err(err).Str("session_id", sess.ID).Str("backend_url", baseURL).Msg("health check failed")
		ok = false
	}
	sess.RecordHealth(ok, r.now())
	return ok
}

// healthy uses the session's last verdict, checking again when there is
// none or it is older than healthMaxAge.
func (r *Resolver) healthy(ctx context.Context, sess *session.Session) bool {
	h, at := sess.Health()
	if h == session.HealthUnknown || r.now().Sub(at) > r.healthMaxAge {
		return r.CheckHealth(ctx, sess)
	}
	return h == session.HealthUp
}

func (r *Resolver) logFallback(sess *session.Session, op string, cause *Error) {
	ev := r.logger.Warn().
		Str("session_id", sess.ID).
		Str("backend_url", r.BackendURL(sess)).
		Str("op", op).
		Str("source", string(SourceFallback)).
		Str("code", string(cause.Code)).
		Str("reason", cause.Reason)
	if cause.Err != nil {
		ev = ev.Err(cause.Err)
	}
	ev.Msg("using fallback")
}
