package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"harborguide/internal/domain"
)

const (
	healthPath     = "/health"
	kpisPath       = "/api/kpis"
	embedTokenPath = "/getEmbedToken"
	askPath        = "/api/ask"

	maxErrorBody    = 4096
	maxRedirects    = 5
	maxResponseBody = 1 << 20
)

// ErrMalformedResponse marks a 2xx response whose body could not be decoded.
var ErrMalformedResponse = errors.New("backend: malformed response")

// ErrInvalidBaseURL marks a backend address that cannot be called.
var ErrInvalidBaseURL = errors.New("backend: invalid base URL")

// HTTPStatusError captures non-2xx backend responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend: unexpected status %d from %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("backend: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// AskRequest is the POST /api/ask payload.
type AskRequest struct {
	Question string                `json:"question"`
	KPIs     map[string]domain.KPI `json:"kpis,omitempty"`
}

// AskResponse is the decoded answer.
type AskResponse struct {
	Answer string
}

// EmbedReport is one report descriptor of the /getEmbedToken response.
type EmbedReport struct {
	ID       string `json:"reportId,omitempty"`
	Name     string `json:"reportName,omitempty"`
	EmbedURL string `json:"embedUrl"`
}

// EmbedTokenResponse is the leniently decoded /getEmbedToken body. Fields of
// the wrong JSON type decode as empty so callers can report them as missing.
type EmbedTokenResponse struct {
	AccessToken string
	Reports     []EmbedReport
}

type healthResponse struct {
	OK bool `json:"ok"`
}

// Client talks to the insights backend. The base URL is passed per call
// because every session may point at its own backend.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client. Deadlines come from the caller's context, so
// the default http.Client carries no timeout of its own. Redirects that
// leave the backend's host are not followed; the redirect response is
// returned as a status error instead.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		userAgent:  "harborguide",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient != nil && c.httpClient.CheckRedirect == nil {
		hc := *c.httpClient
		hc.CheckRedirect = sameHostRedirect
		c.httpClient = &hc
	}
	return c
}

// sameHostRedirect follows a redirect only to the scheme and host of the
// original request.
func sameHostRedirect(req *http.Request, via []*http.Request) error {
	if len(via) == 0 {
		return nil
	}
	if len(via) >= maxRedirects {
		return http.ErrUseLastResponse
	}
	orig := via[0].URL
	if req.URL.Scheme != orig.Scheme || !strings.EqualFold(req.URL.Host, orig.Host) {
		return http.ErrUseLastResponse
	}
	return nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return http.DefaultClient
}

// EndpointURL joins a backend base URL and an endpoint path.
func EndpointURL(baseURL, path string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return "", errors.Wrap(ErrInvalidBaseURL, "empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidBaseURL, "parse %q: %v", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.Wrapf(ErrInvalidBaseURL, "%q must use http or https", base)
	}
	if u.Host == "" {
		return "", errors.Wrapf(ErrInvalidBaseURL, "%q has no host", base)
	}
	return base + path, nil
}

// Health calls GET /health and reports the ok flag.
func (c *Client) Health(ctx context.Context, baseURL string) (bool, error) {
	raw, _, err := c.get(ctx, baseURL, healthPath)
	if err != nil {
		return false, err
	}
	var payload healthResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return false, errors.Wrap(ErrMalformedResponse, "decode health response: "+err.Error())
	}
	return payload.OK, nil
}

// KPIs calls GET /api/kpis.
func (c *Client) KPIs(ctx context.Context, baseURL string) (domain.KPISet, error) {
	raw, _, err := c.get(ctx, baseURL, kpisPath)
	if err != nil {
		return domain.KPISet{}, err
	}
	var payload domain.KPISet
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.KPISet{}, errors.Wrap(ErrMalformedResponse, "decode kpis response: "+err.Error())
	}
	if payload.KPIs == nil {
		return domain.KPISet{}, errors.Wrap(ErrMalformedResponse, "kpis response has no kpis mapping")
	}
	return payload, nil
}

// EmbedToken calls GET /getEmbedToken. Only a body that is not a JSON object
// is an error; individual fields are decoded leniently.
func (c *Client) EmbedToken(ctx context.Context, baseURL string) (EmbedTokenResponse, error) {
	raw, _, err := c.get(ctx, baseURL, embedTokenPath)
	if err != nil {
		return EmbedTokenResponse{}, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return EmbedTokenResponse{}, errors.Wrap(ErrMalformedResponse, "decode embed token response: "+err.Error())
	}

	out := EmbedTokenResponse{
		AccessToken: stringField(fields, "accessToken"),
	}
	var reports []json.RawMessage
	if v, ok := fields["embedUrl"]; ok && json.Unmarshal(v, &reports) == nil {
		for _, r := range reports {
			var obj map[string]json.RawMessage
			if json.Unmarshal(r, &obj) != nil {
				out.Reports = append(out.Reports, EmbedReport{})
				continue
			}
			out.Reports = append(out.Reports, EmbedReport{
				ID:       stringField(obj, "reportId"),
				Name:     stringField(obj, "reportName"),
				EmbedURL: stringField(obj, "embedUrl"),
			})
		}
	}
	return out, nil
}

// Ask posts a question. JSON bodies yield their answer field; any other
// content type yields the raw body text.
func (c *Client) Ask(ctx context.Context, baseURL string, in AskRequest) (AskResponse, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return AskResponse{}, errors.Wrap(err, "backend: marshal ask request")
	}
	endpoint, err := EndpointURL(baseURL, askPath)
	if err != nil {
		return AskResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return AskResponse{}, errors.Wrap(err, "backend: create ask request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain;q=0.9, */*;q=0.5")

	raw, header, err := c.do(req, endpoint)
	if err != nil {
		return AskResponse{}, err
	}
	if !isJSON(header.Get("Content-Type")) {
		return AskResponse{Answer: strings.TrimSpace(string(raw))}, nil
	}

	var payload struct {
		Answer *string `json:"answer"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return AskResponse{}, errors.Wrap(ErrMalformedResponse, "decode ask response: "+err.Error())
	}
	if payload.Answer == nil {
		// A JSON body without an answer still says something; show it verbatim.
		return AskResponse{Answer: strings.TrimSpace(string(raw))}, nil
	}
	return AskResponse{Answer: strings.TrimSpace(*payload.Answer)}, nil
}

func (c *Client) get(ctx context.Context, baseURL, path string) ([]byte, http.Header, error) {
	endpoint, err := EndpointURL(baseURL, path)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "backend: create request for %s", path)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, endpoint)
}

func (c *Client) do(req *http.Request, endpoint string) ([]byte, http.Header, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "backend: request %s failed", endpoint)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return nil, res.Header, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        endpoint,
			Body:       strings.TrimSpace(string(buf)),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return nil, res.Header, errors.Wrap(err, "backend: read response body")
	}
	return buf, res.Header, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "application/json")
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func stringField(fields map[string]json.RawMessage, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}
