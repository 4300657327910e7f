// Package transport is the HTTP surface of the platform gateway.
//
// It owns the routes, the handlers behind them, and the middleware
// chain around the mux. The chain is fixed:
//
//	RequestID → Logging → Metrics → Recovery → [RateLimit] → MaxBytes → mux
//
// with the authenticator and the role/subscription/quota gates wrapped
// per route group rather than globally, so public routes (register,
// login, refresh, webhook, health) stay reachable without credentials.
//
// Every response body is JSON: successes use the pkg/api data
// envelope, failures the pkg/api rejection envelope, including the
// mux-level 404 and 405 answers.
//
// HTTP serving uses net/http with Go 1.22+ ServeMux routing patterns;
// structured logging uses log/slog.
package transport
