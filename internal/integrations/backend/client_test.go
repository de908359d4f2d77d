package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestEndpointURL(t *testing.T) {
	cases := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{base: "http://localhost:5300", want: "http://localhost:5300/health"},
		{base: "http://localhost:5300/", want: "http://localhost:5300/health"},
		{base: " https://api.example.com/base/ ", want: "https://api.example.com/base/health"},
		{base: "", wantErr: true},
		{base: "localhost:5300", wantErr: true},
		{base: "ftp://example.com", wantErr: true},
		{base: "http://", wantErr: true},
	}
	for _, tc := range cases {
		got, err := EndpointURL(tc.base, "/health")
		if tc.wantErr {
			require.ErrorIs(t, err, ErrInvalidBaseURL, "base=%q", tc.base)
			continue
		}
		require.NoError(t, err, "base=%q", tc.base)
		require.Equal(t, tc.want, got)
	}
}

func TestHealth(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		require.Equal(t, http.MethodGet, r.Method)
		writeJSON(w, http.StatusOK, `{"ok":true}`)
	})
	ok, err := NewClient().Health(context.Background(), srv.URL)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHealth_MalformedBody(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `<html>`)
	})
	_, err := NewClient().Health(context.Background(), srv.URL)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMalformedResponse))
}

func TestHealth_StatusError(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, `{"ok":false}`)
	})
	_, err := NewClient().Health(context.Background(), srv.URL)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.HTTPStatusCode())
	require.Contains(t, err.Error(), "503")
}

func TestKPIs_HappyPath(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/kpis", r.URL.Path)
		writeJSON(w, http.StatusOK, `{
			"kpis": {
				"arrival_accuracy": {"value": 72.3, "delta": -1.7, "unit": "%", "window": "WoW"},
				"carbon_tonnes": {"value": null, "delta": null, "unit": "t", "window": "MTD"}
			},
			"topVessels": [{"vessel": "A", "bu": "APAC", "variance_h": 6.2}]
		}`)
	})
	set, err := NewClient().KPIs(context.Background(), srv.URL)
	require.NoError(t, err)
	require.InDelta(t, 72.3, set.KPIs["arrival_accuracy"].Value, 1e-9)
	require.NotNil(t, set.KPIs["arrival_accuracy"].Delta)
	require.InDelta(t, -1.7, *set.KPIs["arrival_accuracy"].Delta, 1e-9)
	require.Nil(t, set.KPIs["carbon_tonnes"].Delta)
	require.Len(t, set.TopVessels, 1)
	require.Equal(t, "A", set.TopVessels[0]["vessel"])
}

func TestKPIs_MissingMapping(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"error":"dax failed"}`)
	})
	_, err := NewClient().KPIs(context.Background(), srv.URL)
	require.True(t, errors.Is(err, ErrMalformedResponse))
}

func TestEmbedToken_HappyPath(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{
			"accessToken": "tok",
			"embedUrl": [{"reportId": "r1", "reportName": "Ops", "embedUrl": "https://app.example/embed?r=1"}],
			"expiry": "2026-10-19T12:00:00Z",
			"status": 200
		}`)
	})
	out, err := NewClient().EmbedToken(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "tok", out.AccessToken)
	require.Len(t, out.Reports, 1)
	require.Equal(t, "https://app.example/embed?r=1", out.Reports[0].EmbedURL)
	require.Equal(t, "r1", out.Reports[0].ID)
}

func TestEmbedToken_WrongFieldTypesDecodeEmpty(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"accessToken": 42, "embedUrl": "https://not-a-list"}`)
	})
	out, err := NewClient().EmbedToken(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Empty(t, out.AccessToken)
	require.Empty(t, out.Reports)
}

func TestEmbedToken_NotAnObject(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `[1,2,3]`)
	})
	_, err := NewClient().EmbedToken(context.Background(), srv.URL)
	require.True(t, errors.Is(err, ErrMalformedResponse))
}

func TestAsk_JSONAnswer(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/ask", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var in map[string]any
		require.NoError(t, json.Unmarshal(raw, &in))
		require.Equal(t, "What changed this week?", in["question"])
		_, hasKPIs := in["kpis"]
		require.False(t, hasKPIs)
		writeJSON(w, http.StatusOK, `{"answer":"Arrivals improved 3%."}`)
	})
	out, err := NewClient().Ask(context.Background(), srv.URL, AskRequest{Question: "What changed this week?"})
	require.NoError(t, err)
	require.Equal(t, "Arrivals improved 3%.", out.Answer)
}

func TestAsk_PlainText(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("  plain answer \n"))
	})
	out, err := NewClient().Ask(context.Background(), srv.URL, AskRequest{Question: "q"})
	require.NoError(t, err)
	require.Equal(t, "plain answer", out.Answer)
}

func TestAsk_JSONWithoutAnswerField(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"message":"hi"}`)
	})
	out, err := NewClient().Ask(context.Background(), srv.URL, AskRequest{Question: "q"})
	require.NoError(t, err)
	require.Equal(t, `{"message":"hi"}`, out.Answer)
}

func TestAsk_MalformedJSON(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"answer":`)
	})
	_, err := NewClient().Ask(context.Background(), srv.URL, AskRequest{Question: "q"})
	require.True(t, errors.Is(err, ErrMalformedResponse))
}

func TestAsk_500(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{"error":"boom"}`)
	})
	_, err := NewClient().Ask(context.Background(), srv.URL, AskRequest{Question: "q"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
}

func TestAsk_Timeout(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeJSON(w, http.StatusOK, `{"answer":"late"}`)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewClient().Ask(ctx, srv.URL, AskRequest{Question: "q"})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestAsk_ConnectionRefused(t *testing.T) {
	c := NewClient(WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}))
	_, err := c.Ask(context.Background(), "http://127.0.0.1:1", AskRequest{Question: "q"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "request")
}

func TestIsJSON(t *testing.T) {
	require.True(t, isJSON("application/json"))
	require.True(t, isJSON("application/json; charset=utf-8"))
	require.True(t, isJSON("application/problem+json"))
	require.False(t, isJSON("text/plain"))
	require.False(t, isJSON(""))
}

func TestAsk_DoesNotFollowCrossHostRedirect(t *testing.T) {
	internal := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("INTERNAL-SECRET"))
	})
	redirecting := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, internal.URL+"/latest/meta-data", http.StatusFound)
	})

	out, err := NewClient().Ask(context.Background(), redirecting.URL, AskRequest{Question: "q"})
	require.Error(t, err)
	require.Empty(t, out.Answer)
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusFound, statusErr.StatusCode)
	require.NotContains(t, err.Error(), "INTERNAL-SECRET")
}

func TestHealth_FollowsSameHostRedirect(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			http.Redirect(w, r, "/v2/health", http.StatusMovedPermanently)
			return
		}
		writeJSON(w, http.StatusOK, `{"ok":true}`)
	})
	ok, err := NewClient().Health(context.Background(), srv.URL)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNewClient_KeepsCallerRedirectPolicy(t *testing.T) {
	called := false
	hc := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		called = true
		return http.ErrUseLastResponse
	}}
	c := NewClient(WithHTTPClient(hc))
	err := c.resolvedHTTPClient().CheckRedirect(nil, nil)
	require.ErrorIs(t, err, http.ErrUseLastResponse)
	require.True(t, called)
}
