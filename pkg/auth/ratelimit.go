package auth

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/automateiq/platform/pkg/api"
	"github.com/automateiq/platform/pkg/observability"
)

// RateLimiter decides whether the caller identified by key may proceed.
// Implementations backed by external state return an error when that
// state is unreachable; the middleware fails open on error.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// InProcessLimiter is a fixed-window rate limiter that tracks request
// counts per key in memory. Counts are not shared across replicas.
type InProcessLimiter struct {
	rpm      int
	mu       sync.Mutex
	counters map[string]*counter
}

type counter struct {
	count    int
	windowAt time.Time
}

// NewInProcessLimiter creates a limiter allowing requestsPerMinute per
// key. A non-positive limit disables limiting.
func NewInProcessLimiter(requestsPerMinute int) *InProcessLimiter {
	return &InProcessLimiter{
		rpm:      requestsPerMinute,
		counters: make(map[string]*counter),
	}
}

// Allow checks if the request is within the rate limit.
func (l *InProcessLimiter) Allow(_ context.Context, key string) (bool, error) {
	if l.rpm <= 0 {
		return true, nil // no limit
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	c, ok := l.counters[key]
	if !ok || now.Sub(c.windowAt) >= time.Minute {
		// New window.
		l.counters[key] = &counter{count: 1, windowAt: now}
		return true, nil
	}

	c.count++
	return c.count <= l.rpm, nil
}

// DefaultBypassEndpoints lists the operational paths that skip rate
// limiting.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}

// RateLimit wraps a handler with per-client limiting keyed by client IP.
// It runs in front of authentication so abusive clients are turned away
// before any token or storage work, and it fails open when the limiter
// itself errors: a broken limiter must not take the API down with it.
func RateLimit(limiter RateLimiter, bypassEndpoints []string) func(http.Handler) http.Handler {
	bypass := make(map[string]struct{}, len(bypassEndpoints))
	for _, p := range bypassEndpoints {
		bypass[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := bypass[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), clientIP(r))
			if err != nil {
				slog.Warn("rate limiter unavailable, failing open", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				observability.RateLimitRejectedTotal.Inc()
				slog.Warn("rate limit exceeded",
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path)
				api.WriteRejection(w, api.NewRejection(api.CodeRateLimited, "too many requests"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the originating client address, preferring the first
// entry of X-Forwarded-For when a proxy set one.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
