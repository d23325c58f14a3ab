// Package httpclient implements the token-rotating HTTP client used to talk
// to the upstream content API (spec.md §4.1.3/§6).
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/louisb0/talos/internal/domain"
	"github.com/louisb0/talos/internal/platform/metrics"
	"github.com/louisb0/talos/internal/platform/ratelimit"
	"github.com/louisb0/talos/internal/platform/retry"
)

var tokenPattern = regexp.MustCompile(`"accessToken":"(.*?)"`)

// Client is a singleton-per-process HTTP client that rotates its bearer
// token every RequestsPerToken authorized requests. Callers share one
// instance so the rotation counter is meaningful process-wide (spec.md §5:
// the counter is mutated by a single goroutine per process).
type Client struct {
	hc               *http.Client
	cfg              Config
	limiter          ratelimit.Limiter
	mu               sync.Mutex
	token            string
	authorizedSent   int
}

// Config carries the subset of config.Config the client needs.
type Config struct {
	HomeURL          string
	UserAgent        string
	RequestsPerToken int
	Timeout          time.Duration
}

// New constructs a Client. limiter may be nil, in which case requests are
// never throttled locally (ratelimit.Limiter.Allow on a nil-backed limiter
// already fails open).
func New(cfg Config, limiter ratelimit.Limiter) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport)
	return &Client{
		hc:      &http.Client{Timeout: cfg.Timeout, Transport: transport},
		cfg:     cfg,
		limiter: limiter,
	}
}

// Verb is the set of HTTP methods Send accepts.
type Verb string

const (
	VerbGET  Verb = "GET"
	VerbPOST Verb = "POST"
)

// Send issues one HTTP call. If withAuth is true, the current bearer token
// is attached and the rotation counter is advanced, fetching a fresh token
// first if none is cached or the rotation threshold has been reached. If
// parseJSON is true, the response body is decoded into out; otherwise the
// raw bytes are returned in out (must be a *[]byte).
func (c *Client) Send(ctx context.Context, url string, verb Verb, body []byte, parseJSON bool, withAuth bool, out any) error {
	if verb != VerbGET && verb != VerbPOST {
		return fmt.Errorf("op=httpclient.send: %w: %s", domain.ErrInvalidVerb, verb)
	}

	if c.limiter != nil {
		allowed, retryAfter, err := c.limiter.Allow(ctx, "upstream", 1)
		if err == nil && !allowed {
			select {
			case <-time.After(retryAfter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	var bearer string
	if withAuth {
		t, err := c.tokenForRequest(ctx)
		if err != nil {
			return err
		}
		bearer = t
	}

	tracer := otel.Tracer("httpclient")
	ctx, span := tracer.Start(ctx, "httpclient.Send")
	defer span.End()
	span.SetAttributes(attribute.String("http.url", url), attribute.String("http.method", string(verb)))

	resp, err := c.do(ctx, url, verb, body, bearer)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("op=httpclient.send.read_body: %w: %v", domain.ErrHTTPTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("op=httpclient.send: %w: status %d", domain.ErrHTTPTransport, resp.StatusCode)
	}

	if !parseJSON || out == nil {
		if bp, ok := out.(*[]byte); ok {
			*bp = respBody
		}
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("op=httpclient.send.decode: %w: %v", domain.ErrHTTPDecode, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, url string, verb Verb, body []byte, bearer string) (*http.Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, string(verb), url, reader)
	if err != nil {
		return nil, fmt.Errorf("op=httpclient.do: %w: %v", domain.ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=httpclient.do: %w: %v", domain.ErrHTTPTransport, err)
	}
	return resp, nil
}

// tokenForRequest returns the bearer token to use for the next authorized
// request, fetching a fresh one if none is cached or the rotation
// threshold (RequestsPerToken) has been reached.
func (c *Client) tokenForRequest(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == "" || c.authorizedSent >= c.cfg.RequestsPerToken {
		token, err := c.fetchToken(ctx)
		if err != nil {
			return "", err
		}
		c.token = token
		c.authorizedSent = 0
		metrics.TokenRotations.Inc()
		slog.Info("rotated access token", slog.Int("requests_per_token", c.cfg.RequestsPerToken))
	}
	c.authorizedSent++
	return c.token, nil
}

// fetchToken scrapes a fresh access token from the upstream homepage,
// retried exponentially within a 3-minute budget (spec.md §4.1.3/§7:
// ErrTokenNotFound is retryable).
func (c *Client) fetchToken(ctx context.Context) (string, error) {
	var token string
	op := func(ctx context.Context) error {
		resp, err := c.do(ctx, c.cfg.HomeURL, VerbGET, nil, "")
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("op=httpclient.fetch_token.read: %w: %v", domain.ErrHTTPTransport, err)
		}
		m := tokenPattern.FindSubmatch(body)
		if m == nil {
			return fmt.Errorf("op=httpclient.fetch_token: %w", domain.ErrTokenNotFound)
		}
		token = string(m[1])
		return nil
	}

	err := retry.Exponential(ctx, "httpclient.fetch_token", time.Second, 30*time.Second, 3*time.Minute, domain.IsRetryable, op)
	if err != nil {
		return "", err
	}
	return token, nil
}
