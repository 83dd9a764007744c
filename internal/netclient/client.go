package netclient

import (
	"bytes"
	"context"
	"encoding/json/v2"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/listenupapp/listenup-sync/internal/domain"
	"github.com/listenupapp/listenup-sync/internal/errors"
	"github.com/listenupapp/listenup-sync/internal/logger"
	"github.com/listenupapp/listenup-sync/internal/ratelimit"
)

// Timeouts for the two request classes. Sign-in shares its budget with DRM activation.
const (
	SignInTimeout     = 60 * time.Second
	AnnotationTimeout = 20 * time.Second
)

// maxBodyBytes caps how much of a response body is buffered.
const maxBodyBytes = 8 << 20

// StaleMarker is notified when the library rejects the session.
// *credentials.Account implements it.
type StaleMarker interface {
	MarkCredentialsStale(ctx context.Context) (bool, error)
}

// Response is the outcome of one request, kept whole so callers can log it and decide on
// user messaging.
type Response struct {
	Request *http.Request
	// URL is where the response came from after redirects.
	URL     *url.URL
	Status  int
	Header  http.Header
	Body    []byte
	Problem *domain.ProblemDocument
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Unauthorized reports a 401 or an invalid-credentials problem document.
func (r *Response) Unauthorized() bool {
	return r.Status == http.StatusUnauthorized || r.Problem.InvalidCredentials()
}

// Client executes requests with a timeout and optional per-host pacing.
type Client struct {
	http    *http.Client
	limiter *ratelimit.KeyedRateLimiter
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client. The timeout is left as given.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimiter paces requests per host.
func WithRateLimiter(l *ratelimit.KeyedRateLimiter) Option {
	return func(c *Client) { c.limiter = l }
}

// New creates a client whose requests time out after timeout.
func New(timeout time.Duration, log *slog.Logger, opts ...Option) *Client {
	if log == nil {
		log = logger.Discard()
	}
	c := &Client{
		http:   &http.Client{Timeout: timeout},
		logger: log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HTTPClient exposes the underlying client, for callers that need its cookie jar.
func (c *Client) HTTPClient() *http.Client { return c.http }

// Do sends req. Transport failures return a TRANSPORT error and a nil Response; any HTTP
// status, including 4xx and 5xx, returns a Response and nil error.
//
// When the response is an authentication failure served from the same domain as req,
// stale is moved to credentialsStale. A 401 from a different domain (a CDN reached via a
// redirect) leaves the session alone.
func (c *Client) Do(ctx context.Context, req *http.Request, stale StaleMarker) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, req.URL.Host); err != nil {
			return nil, errors.Transport(err, "%s %s: rate limit wait", req.Method, redact(req.URL))
		}
	}

	c.logger.Debug("outbound request", "method", req.Method, "url", redact(req.URL))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Transport(err, "%s %s", req.Method, redact(req.URL))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Transport(err, "%s %s: read body", req.Method, redact(req.URL))
	}

	out := &Response{
		Request: req,
		URL:     resp.Request.URL,
		Status:  resp.StatusCode,
		Header:  resp.Header,
		Body:    body,
		Problem: parseProblem(resp.Header.Get("Content-Type"), body),
	}

	if out.Unauthorized() && stale != nil {
		if SameDomain(req.URL, out.URL) {
			if changed, err := stale.MarkCredentialsStale(ctx); err != nil {
				c.logger.Warn("failed to mark credentials stale", "error", err)
			} else if changed {
				c.logger.Info("session rejected by library", "url", redact(req.URL), "status", out.Status)
			}
		} else {
			c.logger.Debug("ignoring 401 from foreign domain",
				"request_host", req.URL.Hostname(), "response_host", out.URL.Hostname())
		}
	}

	return out, nil
}

// ProtocolError builds a PROTOCOL error for an unexpected response and logs it with
// request context.
func (c *Client) ProtocolError(resp *Response, op string) error {
	c.logger.Error("unexpected response",
		"op", op,
		"method", resp.Request.Method,
		"url", redact(resp.Request.URL),
		"status", resp.Status,
	)
	err := errors.Protocol("%s: unexpected status %d", op, resp.Status)
	if resp.Problem != nil {
		return err.WithDetails(resp.Problem).WithCause(resp.Problem)
	}
	return err
}

// SameDomain compares the last two dot-separated labels of both hostnames.
//
// This misclassifies multi-label public suffixes: "a.library.co.uk" and "cdn.co.uk" both
// reduce to "co.uk". Kept as is; callers only use it to decide session staleness.
func SameDomain(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return baseDomain(a.Hostname()) == baseDomain(b.Hostname())
}

func baseDomain(host string) string {
	labels := strings.Split(strings.TrimSuffix(strings.ToLower(host), "."), ".")
	if len(labels) <= 2 {
		return strings.Join(labels, ".")
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

func parseProblem(contentType string, body []byte) *domain.ProblemDocument {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType != "application/problem+json" && mediaType != "application/api-problem+json" {
		return nil
	}

	var p domain.ProblemDocument
	if err := json.Unmarshal(body, &p); err != nil {
		return nil
	}
	if p.Type == "" && p.Title == "" {
		return nil
	}
	return &p
}

// ReadJSON decodes a successful response body into v.
func ReadJSON(resp *Response, v any) error {
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return errors.Protocol("decode %s response: %v", resp.Request.URL.Path, err)
	}
	return nil
}

// redact drops query strings, which may carry tokens on redirect URLs.
func redact(u *url.URL) string {
	if u == nil {
		return ""
	}
	cp := *u
	cp.RawQuery = ""
	cp.Fragment = ""
	cp.User = nil
	return cp.String()
}

// String implements fmt.Stringer for log lines.
func (r *Response) String() string {
	return fmt.Sprintf("%s %s -> %d", r.Request.Method, redact(r.Request.URL), r.Status)
}
