// Package engine is the HTTP client for the internal AI engine.
//
// The platform never calls the engine on its own behalf: every request
// carries the caller's bearer token and request ID forward, so the
// engine sees the same identity the platform authenticated. Transport
// failures and engine 5xx responses are retried with exponential
// backoff and then reported as ErrUnavailable; any other engine
// response is relayed to the caller untouched.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/automateiq/platform/pkg/observability"
)

// ErrUnavailable reports that the engine could not produce a response:
// every attempt ended in a transport error or a 5xx status.
var ErrUnavailable = errors.New("engine unavailable")

const (
	// DefaultTimeout bounds a single attempt, not the whole call.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxAttempts is the total number of tries, not retries.
	DefaultMaxAttempts = 3

	baseBackoff    = 500 * time.Millisecond
	maxBackoff     = 8 * time.Second
	jitterFraction = 0.2
)

// Config holds the engine client settings.
type Config struct {
	// BaseURL is the engine's root URL. Required.
	BaseURL string

	// Timeout is the per-attempt HTTP timeout.
	Timeout time.Duration

	// MaxAttempts caps the total tries per call.
	MaxAttempts int
}

func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
}

// Client performs proxied calls against the AI engine.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	maxAttempts int

	// backoffBase is a field rather than the package constant so tests
	// can shrink the retry delays.
	backoffBase time.Duration
}

// New creates a Client for the engine at cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	cfg.applyDefaults()

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("engine: base URL is required")
	}

	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		maxAttempts: cfg.MaxAttempts,
		backoffBase: baseBackoff,
	}, nil
}

// Request describes one proxied call.
type Request struct {
	// Operation labels the engine metrics, e.g. "chat_message".
	Operation string

	// Path is the engine route, e.g. "/api/ai/chat/message".
	Path string

	// Body is the caller's JSON payload, relayed as-is.
	Body []byte

	// Token is the caller's bearer token. Forwarded when non-empty.
	Token string

	// RequestID is propagated via the X-Request-ID header.
	RequestID string
}

// Result is the engine's reply. Any status the engine actually
// produced is a Result, including 4xx; only transport failures and
// 5xx become errors.
type Result struct {
	StatusCode int
	Body       []byte
}

// Proxy posts req to the engine and returns its reply.
//
// Transport errors and 5xx statuses are retried up to the configured
// attempt limit with exponential backoff; if all attempts fail the
// returned error wraps ErrUnavailable. Context cancellation during a
// backoff sleep returns the context's error unwrapped.
func (c *Client) Proxy(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := c.deliver(ctx, req)
	observability.EngineRequestDuration.WithLabelValues(req.Operation).Observe(time.Since(start).Seconds())

	status := "error"
	if err == nil {
		status = strconv.Itoa(res.StatusCode/100) + "xx"
	}
	observability.EngineRequestsTotal.WithLabelValues(req.Operation, status).Inc()

	return res, err
}

func (c *Client) deliver(ctx context.Context, req Request) (*Result, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(c.backoff(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		res, retryable, err := c.attempt(ctx, req)
		if err == nil {
			return res, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// attempt performs a single POST. A 5xx status or transport error is
// retryable; a context error or request construction error is not.
func (c *Client) attempt(ctx context.Context, req Request) (*Result, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+req.Path, bytes.NewReader(req.Body))
	if err != nil {
		return nil, false, fmt.Errorf("engine: building request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("engine: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, httpResp.Body)
		return nil, true, fmt.Errorf("engine: status %d", httpResp.StatusCode)
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("engine: reading response: %w", err)
	}

	return &Result{StatusCode: httpResp.StatusCode, Body: body}, false, nil
}

// Health checks the engine's liveness endpoint. Used by readiness.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("engine health: %w", err)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("engine health: %w", err)
	}
	defer httpResp.Body.Close()
	_, _ = io.Copy(io.Discard, httpResp.Body)

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine health: status %d", httpResp.StatusCode)
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) backoff(attempt int) time.Duration {
	d := float64(c.backoffBase) * math.Pow(2, float64(attempt-2))
	if d > float64(maxBackoff) {
		d = float64(maxBackoff)
	}
	// Up to ±20% jitter.
	d += d * jitterFraction * (rand.Float64()*2 - 1)
	return time.Duration(d)
}
