package intercom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Doer performs one authenticated API call and returns the raw JSON body.
type Doer interface {
	Do(ctx context.Context, method, target string, body any, query url.Values) (json.RawMessage, error)
}

// Client is an Intercom REST client with Bearer auth and bounded retry on
// HTTP 429.
type Client struct {
	baseURL     *url.URL
	token       string
	version     string
	httpClient  *http.Client
	maxAttempts int
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	notice      func(wait time.Duration, attempt int)
	observe     func(operation string, duration time.Duration, err error)
	logger      *zap.Logger
}

// APIError is a non-2xx, non-429 response. It is never retried.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string // first 512 bytes
}

func (e *APIError) Error() string {
	return fmt.Sprintf("intercom %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// RateLimitError is returned once every attempt was answered with HTTP 429.
type RateLimitError struct {
	Method   string
	Path     string
	Attempts int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("intercom %s %s: still rate limited after %d attempts", e.Method, e.Path, e.Attempts)
}

// ErrForeignHost rejects absolute URLs that point away from the configured API host.
var ErrForeignHost = errors.New("intercom: refusing to send credentials to a foreign host")

// Option configures Client behavior.
type Option func(*Client)

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMaxAttempts bounds the number of requests sent for one call.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithVersion sets the Intercom-Version header.
func WithVersion(v string) Option {
	return func(c *Client) {
		c.version = strings.TrimSpace(v)
	}
}

// WithClock overrides the clock used to interpret X-RateLimit-Reset.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSleeper overrides how throttling waits are performed.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithNotice registers a callback invoked before each throttling wait.
func WithNotice(fn func(wait time.Duration, attempt int)) Option {
	return func(c *Client) {
		c.notice = fn
	}
}

// WithObserver registers a callback invoked once per Do call.
func WithObserver(fn func(operation string, duration time.Duration, err error)) Option {
	return func(c *Client) {
		c.observe = fn
	}
}

// WithLogger sets the logger used for failed calls and throttling waits.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client for baseURL authenticated with token.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse intercom base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("intercom base url %q must be absolute", baseURL)
	}
	c := &Client{
		baseURL:     u,
		token:       token,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxAttempts: 3,
		now:         time.Now,
		sleep:       sleepContext,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do sends one request. target is either a path relative to the base URL or
// an absolute URL on the same host (pagination links). Any 2xx response body
// is returned as is; 429 is retried, everything else fails immediately.
func (c *Client) Do(ctx context.Context, method, target string, body any, query url.Values) (json.RawMessage, error) {
	fullURL, err := c.resolve(target, query)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode intercom request body: %w", err)
		}
	}

	start := time.Now()
	raw, err := c.send(ctx, method, fullURL, payload)
	if c.observe != nil {
		c.observe(method+" "+operationPath(fullURL.Path), time.Since(start), err)
	}
	return raw, err
}

func (c *Client) send(ctx context.Context, method string, fullURL *url.URL, payload []byte) (json.RawMessage, error) {
	path := fullURL.Path
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if c.version != "" {
			req.Header.Set("Intercom-Version", c.version)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			c.logger.Error("intercom request failed",
				zap.String("method", method), zap.String("path", path), zap.Error(err))
			return nil, fmt.Errorf("intercom %s %s: %w", method, path, err)
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read intercom response: %w", err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if len(bytes.TrimSpace(data)) == 0 {
				return json.RawMessage("{}"), nil
			}
			return data, nil
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := backoffDelay(attempt, resp.Header.Get("X-RateLimit-Reset"), c.now())
			c.logger.Warn("intercom rate limited, waiting",
				zap.String("path", path), zap.Int("attempt", attempt+1), zap.Duration("wait", wait))
			if c.notice != nil {
				c.notice(wait, attempt)
			}
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		bodyStr := string(data)
		if len(bodyStr) > 512 {
			bodyStr = bodyStr[:512]
		}
		apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: bodyStr}
		c.logger.Error("intercom request rejected",
			zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))
		return nil, apiErr
	}

	c.logger.Error("intercom rate limit retries exhausted",
		zap.String("method", method), zap.String("path", path), zap.Int("attempts", c.maxAttempts))
	return nil, &RateLimitError{Method: method, Path: path, Attempts: c.maxAttempts}
}

func (c *Client) resolve(target string, query url.Values) (*url.URL, error) {
	target = strings.TrimSpace(target)
	var u *url.URL
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		parsed, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("parse intercom url: %w", err)
		}
		if !strings.EqualFold(parsed.Host, c.baseURL.Host) {
			return nil, fmt.Errorf("%w: %s", ErrForeignHost, parsed.Host)
		}
		u = parsed
	} else {
		rel, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("parse intercom path: %w", err)
		}
		u = c.baseURL.ResolveReference(&url.URL{
			Path:     strings.TrimRight(c.baseURL.Path, "/") + "/" + strings.TrimLeft(rel.Path, "/"),
			RawQuery: rel.RawQuery,
		})
	}
	if len(query) > 0 {
		merged := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				merged.Add(k, v)
			}
		}
		u.RawQuery = merged.Encode()
	}
	return u, nil
}

// operationPath collapses record ids so metric labels stay bounded.
func operationPath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if strings.IndexFunc(p, func(r rune) bool { return r < '0' || r > '9' }) == -1 {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
