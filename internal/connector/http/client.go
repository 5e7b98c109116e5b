package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultRateLimit = 10.0
	defaultBurst     = 5
	defaultUserAgent = "sprint-worklog/1.0"

	// maxBackoff caps both computed backoff and server Retry-After hints.
	maxBackoff = 30 * time.Second
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig configures the Jira HTTP client.
type ClientConfig struct {
	// BaseURL is the site URL all request paths are joined onto.
	BaseURL string

	// Auth signs every request. Nil sends requests unsigned.
	Auth Authenticator

	// Timeout bounds one attempt, including reading the body.
	Timeout time.Duration

	// MaxRetries for 429/5xx responses. Zero means a failed request is
	// reported as-is.
	MaxRetries int

	// RateLimit is the sustained requests per second; RateBurst the bucket.
	RateLimit float64
	RateBurst int

	UserAgent string

	// Transport replaces the network transport (tests use an in-memory one).
	Transport http.RoundTripper

	// Logger receives one debug line per attempt.
	Logger zerolog.Logger
}

// DefaultClientConfig returns a client config with the default limits.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:   defaultTimeout,
		RateLimit: defaultRateLimit,
		RateBurst: defaultBurst,
		UserAgent: defaultUserAgent,
		Logger:    zerolog.Nop(),
	}
}

// =============================================================================
// HTTP CLIENT
// =============================================================================

// Client is a rate-limited JSON client for one Jira site.
type Client struct {
	config  *ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewClient creates a client, filling unset limits with defaults.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.RateBurst <= 0 {
		config.RateBurst = defaultBurst
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}

	return &Client{
		config:  config,
		http:    &http.Client{Timeout: config.Timeout, Transport: config.Transport},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
		log:     config.Logger,
	}
}

// BaseURL returns the configured site URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// Request is one Jira call. Path is relative to the site URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Body is sent as application/json when non-nil.
	Body []byte
}

// Response is a fully read response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals the response body into target. Empty bodies (204 No
// Content) leave target untouched.
func (r *Response) JSON(target any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, target)
}

// =============================================================================
// CLIENT METHODS
// =============================================================================

// Do sends req, waiting on the rate limiter before every attempt. 429 and
// 5xx answers are retried up to MaxRetries times with exponential backoff,
// or after the server's Retry-After when it sends one.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := c.send(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !isRetryable(err) || attempt >= c.config.MaxRetries {
			return nil, err
		}

		wait := backoff(attempt, err)
		c.log.Debug().Err(err).Int("attempt", attempt+1).Dur("wait", wait).Str("path", req.Path).Msg("retrying jira request")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func backoff(attempt int, err error) time.Duration {
	wait := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
	if hinted := retryAfter(err); hinted > 0 {
		wait = hinted
	}
	return min(wait, maxBackoff)
}

func (c *Client) send(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	requestID := httpReq.Header.Get("X-Request-Id")

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.Path, err)
	}

	c.log.Debug().
		Str("request_id", requestID).
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("jira request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Path:       req.Path,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

func (c *Client) newRequest(ctx context.Context, req *Request) (*http.Request, error) {
	target := strings.TrimSuffix(c.config.BaseURL, "/")
	if req.Path != "" {
		target += "/" + strings.TrimPrefix(req.Path, "/")
	}
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("X-Request-Id", uuid.NewString())
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.config.Auth != nil {
		c.config.Auth.Authorize(httpReq)
	}
	return httpReq, nil
}

// parseRetryAfter reads the delay-seconds form Jira uses; HTTP dates are
// ignored.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Query: query})
}

// GetJSON performs a GET request and decodes the body into target.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, target any) error {
	resp, err := c.Get(ctx, path, query)
	if err != nil {
		return err
	}
	if err := resp.JSON(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Post sends body as JSON.
func (c *Client) Post(ctx context.Context, path string, query url.Values, body any) (*Response, error) {
	return c.sendJSON(ctx, http.MethodPost, path, query, body)
}

// Put sends body as JSON.
func (c *Client) Put(ctx context.Context, path string, query url.Values, body any) (*Response, error) {
	return c.sendJSON(ctx, http.MethodPut, path, query, body)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path, Query: query})
}

func (c *Client) sendJSON(ctx context.Context, method, path string, query url.Values, body any) (*Response, error) {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("marshal %s body: %w", path, err)
		}
	}
	return c.Do(ctx, &Request{Method: method, Path: path, Query: query, Body: data})
}
