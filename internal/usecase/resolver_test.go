package usecase

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"harborguide/internal/domain"
	"harborguide/internal/integrations/backend"
	"harborguide/internal/session"
)

type mockBackend struct {
	mu sync.Mutex

	healthy   bool
	healthErr error

	kpis      domain.KPISet
	kpisErr   error
	kpisCalls int
	kpisDelay time.Duration
	kpisStart chan struct{}
	kpisGate  chan struct{}

	embed    backend.EmbedTokenResponse
	embedErr error

	answer  string
	askErr  error
	lastAsk backend.AskRequest
	askURL  string
}

func (m *mockBackend) Health(_ context.Context, _ string) (bool, error) {
	return m.healthy, m.healthErr
}

func (m *mockBackend) KPIs(ctx context.Context, _ string) (domain.KPISet, error) {
	m.mu.Lock()
	m.kpisCalls++
	delay, start, gate := m.kpisDelay, m.kpisStart, m.kpisGate
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if start != nil {
		close(start)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.KPISet{}, ctx.Err()
		}
	}
	return m.kpis, m.kpisErr
}

func (m *mockBackend) EmbedToken(_ context.Context, _ string) (backend.EmbedTokenResponse, error) {
	return m.embed, m.embedErr
}

func (m *mockBackend) Ask(_ context.Context, baseURL string, in backend.AskRequest) (backend.AskResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAsk = in
	m.askURL = baseURL
	return backend.AskResponse{Answer: m.answer}, m.askErr
}

func (m *mockBackend) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kpisCalls
}

type mockFallback struct{}

func (mockFallback) KPIs() domain.KPISet { return domain.ZeroKPIs() }

func (mockFallback) Answer(q string) string { return "mock answer for " + q }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func liveKPIs() domain.KPISet {
	delta := -1.7
	return domain.KPISet{KPIs: map[string]domain.KPI{
		"arrival_accuracy": {Value: 72.4, Unit: "%", Delta: &delta, Window: "WoW"},
	}}
}

func mustResolver(t *testing.T, b BackendClient, opts ...ResolverOption) *Resolver {
	t.Helper()
	r, err := NewResolver(b, mockFallback{}, "http://localhost:5300", opts...)
	require.NoError(t, err)
	return r
}

func newSession() *session.Session {
	return session.New("sess-1", time.Now())
}

func TestNewResolver_Validation(t *testing.T) {
	_, err := NewResolver(nil, mockFallback{}, "http://x")
	require.Error(t, err)
	_, err = NewResolver(&mockBackend{}, nil, "http://x")
	require.Error(t, err)
	_, err = NewResolver(&mockBackend{}, mockFallback{}, "  ")
	require.Error(t, err)
}

func TestTimeouts_Defaults(t *testing.T) {
	got := Timeouts{Ask: time.Second}.withDefaults()
	require.Equal(t, Timeouts{Health: 5 * time.Second, KPIs: 10 * time.Second, Embed: 20 * time.Second, Ask: time.Second}, got)
}

func TestCheckHealth_RecordsVerdict(t *testing.T) {
	b := &mockBackend{healthy: true}
	r := mustResolver(t, b)
	sess := newSession()

	require.True(t, r.CheckHealth(context.Background(), sess))
	require.True(t, sess.Healthy())

	b.healthy = true
	b.healthErr = errors.New("connection refused")
	require.False(t, r.CheckHealth(context.Background(), sess))
	require.False(t, sess.Healthy())

	b.healthErr = nil
	b.healthy = false
	require.False(t, r.CheckHealth(context.Background(), sess))
}

func TestBackendURL_SessionOverride(t *testing.T) {
	r := mustResolver(t, &mockBackend{})
	sess := newSession()
	require.Equal(t, "http://localhost:5300", r.BackendURL(sess))
	sess.SetBackendURL("http://backend:8080/")
	require.Equal(t, "http://backend:8080", r.BackendURL(sess))
}

func TestFetchKPIs_Remote(t *testing.T) {
	b := &mockBackend{healthy: true, kpis: liveKPIs()}
	r := mustResolver(t, b)
	sess := newSession()
	r.CheckHealth(context.Background(), sess)

	out := r.FetchKPIs(context.Background(), sess)
	require.Equal(t, SourceRemote, out.Source)
	require.Empty(t, out.Reason)
	require.InDelta(t, 72.4, out.Value.KPIs["arrival_accuracy"].Value, 1e-9)
}

func TestFetchKPIs_UnhealthyUsesDefaults(t *testing.T) {
	b := &mockBackend{healthy: false, kpis: liveKPIs()}
	r := mustResolver(t, b)
	sess := newSession()
	r.CheckHealth(context.Background(), sess)

	out := r.FetchKPIs(context.Background(), sess)
	require.Equal(t, SourceFallback, out.Source)
	require.Equal(t, "backend health check failed", out.Reason)
	require.Zero(t, out.Value.KPIs["arrival_accuracy"].Value)
	require.Equal(t, "%", out.Value.KPIs["arrival_accuracy"].Unit)
	require.Zero(t, b.calls())
}

func TestFetchKPIs_FailureUsesDefaults(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   ErrorCode
		reason string
	}{
		{"status", &backend.HTTPStatusError{StatusCode: 503}, ErrorUpstream, "backend returned HTTP 503"},
		{"malformed", pkgerrors.Wrap(backend.ErrMalformedResponse, "decode"), ErrorMalformedResponse, "backend returned a malformed response"},
		{"timeout", pkgerrors.Wrap(context.DeadlineExceeded, "request"), ErrorUnavailable, "backend timed out"},
		{"refused", errors.New("dial tcp: connection refused"), ErrorUnavailable, "backend unreachable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := &mockBackend{healthy: true, kpisErr: tc.err}
			r := mustResolver(t, b)
			sess := newSession()
			r.CheckHealth(context.Background(), sess)

			out := r.FetchKPIs(context.Background(), sess)
			require.Equal(t, SourceFallback, out.Source)
			require.Equal(t, tc.reason, out.Reason)
			require.Equal(t, tc.code, out.Err.Code)
			require.Len(t, out.Value.KPIs, 4)
		})
	}
}

func TestFetchKPIs_MemoizedWithinTTL(t *testing.T) {
	c := newClock()
	b := &mockBackend{healthy: true, kpis: liveKPIs()}
	r := mustResolver(t, b, withClock(c.Now), WithKPITTL(30*time.Second), WithHealthMaxAge(time.Hour))
	sess := newSession()
	r.CheckHealth(context.Background(), sess)

	first := r.FetchKPIs(context.Background(), sess)
	c.Advance(10 * time.Second)
	second := r.FetchKPIs(context.Background(), sess)
	require.Equal(t, 1, b.calls())
	require.Equal(t, first.Value, second.Value)

	c.Advance(21 * time.Second)
	r.FetchKPIs(context.Background(), sess)
	require.Equal(t, 2, b.calls())
}

func TestFetchKPIs_MemoKeyedByAddress(t *testing.T) {
	b := &mockBackend{healthy: true, kpis: liveKPIs()}
	r := mustResolver(t, b)
	a := session.New("a", time.Now())
	other := session.New("b", time.Now())
	other.SetBackendURL("http://other:5300")
	r.CheckHealth(context.Background(), a)
	r.CheckHealth(context.Background(), other)

	r.FetchKPIs(context.Background(), a)
	r.FetchKPIs(context.Background(), a)
	r.FetchKPIs(context.Background(), other)
	require.Equal(t, 2, b.calls())
}

func TestFetchKPIs_FailuresNotMemoized(t *testing.T) {
	b := &mockBackend{healthy: true, kpisErr: errors.New("boom")}
	r := mustResolver(t, b)
	sess := newSession()
	r.CheckHealth(context.Background(), sess)

	require.Equal(t, SourceFallback, r.FetchKPIs(context.Background(), sess).Source)
	b.kpisErr = nil
	b.kpis = liveKPIs()
	require.Equal(t, SourceRemote, r.FetchKPIs(context.Background(), sess).Source)
	require.Equal(t, 2, b.calls())
}

func TestFetchKPIs_SingleFlight(t *testing.T) {
	b := &mockBackend{healthy: true, kpis: liveKPIs(), kpisDelay: 50 * time.Millisecond}
	r := mustResolver(t, b)

	var wg sync.WaitGroup
	var remote atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess := newSession()
			sess.RecordHealth(true, time.Now())
			if r.FetchKPIs(context.Background(), sess).IsRemote() {
				remote.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(8), remote.Load())
	require.Equal(t, 1, b.calls())
}

func TestFetchKPIs_SharedFetchSurvivesLeaderCancel(t *testing.T) {
	b := &mockBackend{healthy: true, kpis: liveKPIs(), kpisStart: make(chan struct{}), kpisGate: make(chan struct{})}
	r := mustResolver(t, b)

	leaderCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	results := make(chan Source, 2)
	fetch := func(ctx context.Context) {
		sess := newSession()
		sess.RecordHealth(true, time.Now())
		results <- r.FetchKPIs(ctx, sess).Source
	}

	go fetch(leaderCtx)
	<-b.kpisStart
	go fetch(context.Background())
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(b.kpisGate)

	require.Equal(t, SourceRemote, <-results)
	require.Equal(t, SourceRemote, <-results)
	require.Equal(t, 1, b.calls())
}

func TestFetchKPIs_ReturnsIndependentCopies(t *testing.T) {
	b := &mockBackend{healthy: true, kpis: liveKPIs()}
	r := mustResolver(t, b)
	sess := newSession()
	r.CheckHealth(context.Background(), sess)

	first := r.FetchKPIs(context.Background(), sess)
	first.Value.KPIs["arrival_accuracy"] = domain.KPI{Value: 1}
	second := r.FetchKPIs(context.Background(), sess)
	require.InDelta(t, 72.4, second.Value.KPIs["arrival_accuracy"].Value, 1e-9)
}

func TestHealthy_RechecksStaleVerdict(t *testing.T) {
	c := newClock()
	b := &mockBackend{healthy: true, kpis: liveKPIs()}
	r := mustResolver(t, b, withClock(c.Now), WithHealthMaxAge(time.Minute))
	sess := newSession()

	// No verdict yet: the first call checks health itself.
	require.Equal(t, SourceRemote, r.FetchKPIs(context.Background(), sess).Source)

	b.healthy = false
	c.Advance(2 * time.Minute)
	out := r.FetchKPIs(context.Background(), sess)
	require.Equal(t, SourceFallback, out.Source)
	require.False(t, sess.Healthy())
}

func TestEmbed_Valid(t *testing.T) {
	b := &mockBackend{embed: backend.EmbedTokenResponse{
		AccessToken: "tok",
		Reports:     []backend.EmbedReport{{Name: "Ops", EmbedURL: "https://app.example/reportEmbed?id=1"}},
	}}
	r := mustResolver(t, b)

	res := r.FetchEmbedConfig(context.Background(), newSession())
	require.True(t, res.OK())
	require.Empty(t, res.Diagnostic)
	require.Equal(t, "https://app.example/reportEmbed?id=1", res.Config.ReportEmbedURL)
	require.Equal(t, "tok", res.Config.AccessToken)
	require.Equal(t, "Ops", res.ReportName)
	require.Equal(t, domain.DefaultVisualSettings(), res.Config.VisualSettings)
}

func TestEmbed_MissingFields(t *testing.T) {
	cases := []struct {
		name    string
		in      backend.EmbedTokenResponse
		missing []string
		diag    string
	}{
		{
			name:    "empty reports",
			in:      backend.EmbedTokenResponse{AccessToken: "tok"},
			missing: []string{"embedUrl"},
			diag:    "Backend missing fields: embedUrl",
		},
		{
			name:    "no token",
			in:      backend.EmbedTokenResponse{Reports: []backend.EmbedReport{{EmbedURL: "https://x"}}},
			missing: []string{"accessToken"},
			diag:    "Backend missing fields: accessToken",
		},
		{
			name:    "both",
			in:      backend.EmbedTokenResponse{Reports: []backend.EmbedReport{{}}},
			missing: []string{"embedUrl", "accessToken"},
			diag:    "Backend missing fields: embedUrl, accessToken",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := mustResolver(t, &mockBackend{embed: tc.in})
			res := r.FetchEmbedConfig(context.Background(), newSession())
			require.False(t, res.OK())
			require.Nil(t, res.Config)
			require.Equal(t, tc.missing, res.Missing)
			require.Equal(t, tc.diag, res.Diagnostic)
		})
	}
}

func TestEmbed_TransportFailure(t *testing.T) {
	r := mustResolver(t, &mockBackend{embedErr: pkgerrors.Wrap(context.DeadlineExceeded, "get")})
	res := r.FetchEmbedConfig(context.Background(), newSession())
	require.False(t, res.OK())
	require.Empty(t, res.Missing)
	require.Equal(t, "Report embed not available: backend timed out", res.Diagnostic)
}

// Exercises the resolver against a real HTTP backend client.
func TestResolver_AgainstHTTPBackend(t *testing.T) {
	var kpiHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	})
	mux.HandleFunc("/api/kpis", func(w http.ResponseWriter, _ *http.Request) {
		kpiHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"kpis": {"within_4h": {"value": 64.1, "unit": "%"}}}`))
	})
	mux.HandleFunc("/api/ask", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"answer": "late"}`))
	})
	mux.HandleFunc("/getEmbedToken", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accessToken": "", "embedUrl": []}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r, err := NewResolver(backend.NewClient(), mockFallback{}, srv.URL,
		WithTimeouts(Timeouts{Ask: 50 * time.Millisecond}))
	require.NoError(t, err)
	sess := newSession()

	require.True(t, r.CheckHealth(context.Background(), sess))
	kpis := r.FetchKPIs(context.Background(), sess)
	require.True(t, kpis.IsRemote())
	r.FetchKPIs(context.Background(), sess)
	require.Equal(t, int32(1), kpiHits.Load())

	start := time.Now()
	ans := r.AskQuestion(context.Background(), sess, "What changed this week?", nil)
	require.Less(t, time.Since(start), 150*time.Millisecond)
	require.Equal(t, SourceFallback, ans.Source)
	require.Equal(t, "backend timed out", ans.Reason)
	require.Equal(t, "mock answer for What changed this week?", ans.Value)

	embed := r.FetchEmbedConfig(context.Background(), sess)
	require.Equal(t, "Backend missing fields: embedUrl, accessToken", embed.Diagnostic)
}

func TestAskQuestion_CrossHostRedirectFallsBack(t *testing.T) {
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("INTERNAL-SECRET"))
	}))
	defer internal.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	})
	mux.HandleFunc("/api/ask", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, internal.URL, http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r, err := NewResolver(backend.NewClient(), mockFallback{}, srv.URL)
	require.NoError(t, err)

	ans := r.AskQuestion(context.Background(), newSession(), "q", nil)
	require.Equal(t, SourceFallback, ans.Source)
	require.Equal(t, "backend returned HTTP 302", ans.Reason)
	require.NotContains(t, ans.Value, "INTERNAL-SECRET")
}

func TestResolver_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	r, err := NewResolver(backend.NewClient(), mockFallback{}, "http://"+addr)
	require.NoError(t, err)
	sess := newSession()

	require.False(t, r.CheckHealth(context.Background(), sess))
	kpis := r.FetchKPIs(context.Background(), sess)
	require.Equal(t, SourceFallback, kpis.Source)
	require.Len(t, kpis.Value.KPIs, 4)

	embed := r.FetchEmbedConfig(context.Background(), sess)
	require.Equal(t, "Report embed not available: backend unreachable", embed.Diagnostic)
}
