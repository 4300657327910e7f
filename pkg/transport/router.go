package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/automateiq/platform/pkg/account"
	"github.com/automateiq/platform/pkg/api"
	"github.com/automateiq/platform/pkg/auth"
	"github.com/automateiq/platform/pkg/auth/token"
	"github.com/automateiq/platform/pkg/engine"
	"github.com/automateiq/platform/pkg/observability"
	"github.com/automateiq/platform/pkg/storage"
)

// DefaultMaxBodyBytes caps request bodies when Config.MaxBodyBytes is unset.
const DefaultMaxBodyBytes int64 = 10 << 20 // 10 MiB

// Config wires the HTTP layer to the rest of the platform.
type Config struct {
	// Store persists accounts, tenants, and usage. Required.
	Store storage.Store

	// Issuer signs session tokens on register, login, and refresh.
	// Required. The session cookie lifetime follows its TTL.
	Issuer *token.Issuer

	// Verifier decodes session tokens for refresh. Required.
	Verifier *token.Verifier

	// Engine relays metered AI operations. Required.
	Engine *engine.Client

	// Authenticator guards the authenticated route groups. Required.
	Authenticator *auth.Authenticator

	// Limiter enables per-client rate limiting when set.
	Limiter auth.RateLimiter

	// CookieName is the session cookie written on register, login, and
	// refresh. Default: auth.SessionCookieName.
	CookieName string

	// CookieSecure marks session cookies Secure. Enable behind TLS.
	CookieSecure bool

	// WebhookSecret authenticates billing webhook calls. The webhook
	// route is not registered when empty.
	WebhookSecret string

	// MaxBodyBytes caps request bodies. Default: DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// MetricsPath mounts the Prometheus handler when non-empty.
	MetricsPath string

	// Logger receives request logs. Default: slog.Default().
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.CookieName == "" {
		c.CookieName = auth.SessionCookieName
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// Handler is the platform's HTTP surface: session endpoints, account and
// tenant management, billing, and the metered AI proxy, wrapped in the
// shared middleware chain.
type Handler struct {
	cfg       Config
	mux       *http.ServeMux
	fallbacks map[string]bool
	handler   http.Handler
}

// New validates the configuration and builds the full route table.
func New(cfg Config) (*Handler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("transport: store is required")
	}
	if cfg.Issuer == nil {
		return nil, fmt.Errorf("transport: token issuer is required")
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("transport: token verifier is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("transport: engine client is required")
	}
	if cfg.Authenticator == nil {
		return nil, fmt.Errorf("transport: authenticator is required")
	}
	cfg.applyDefaults()

	h := &Handler{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		fallbacks: make(map[string]bool),
	}
	h.routes()

	middlewares := []Middleware{
		RequestID(),
		Logging(cfg.Logger),
		observability.MetricsMiddleware,
		Recovery(),
	}
	if cfg.Limiter != nil {
		bypass := []string{"/healthz", "/readyz"}
		if cfg.MetricsPath != "" {
			bypass = append(bypass, cfg.MetricsPath)
		}
		middlewares = append(middlewares, auth.RateLimit(cfg.Limiter, bypass))
	}
	middlewares = append(middlewares, MaxBytes(cfg.MaxBodyBytes))
	h.handler = Chain(middlewares...)(h.mux)

	return h, nil
}

// ServeHTTP dispatches through the middleware chain.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

// routes registers the full route table. Middleware order within a group:
// authentication first, then role or plan gates, then credit gates, so a
// caller always learns about the most fundamental problem first.
func (h *Handler) routes() {
	// Session lifecycle and operational endpoints take no token.
	h.route("POST", "/api/auth/register", http.HandlerFunc(h.handleRegister))
	h.route("POST", "/api/auth/login", http.HandlerFunc(h.handleLogin))
	h.route("POST", "/api/auth/refresh", http.HandlerFunc(h.handleRefresh))
	h.route("GET", "/api/billing/plans", http.HandlerFunc(h.handlePlans))
	if h.cfg.WebhookSecret != "" {
		h.route("POST", "/api/billing/webhook", http.HandlerFunc(h.handleWebhook))
	} else {
		slog.Warn("billing webhook secret not configured, webhook endpoint disabled")
	}
	h.route("GET", "/healthz", http.HandlerFunc(h.handleHealthz))
	h.route("GET", "/readyz", http.HandlerFunc(h.handleReadyz))
	if h.cfg.MetricsPath != "" {
		h.mux.Handle("GET "+h.cfg.MetricsPath, promhttp.Handler())
	}

	authed := h.cfg.Authenticator.Middleware()
	h.route("POST", "/api/auth/logout", authed(http.HandlerFunc(h.handleLogout)))
	h.route("GET", "/api/auth/me", authed(http.HandlerFunc(h.handleMe)))
	h.route("GET", "/api/accounts", authed(http.HandlerFunc(h.handleListAccounts)))
	h.route("GET", "/api/tenant", authed(http.HandlerFunc(h.handleGetTenant)))
	h.route("GET", "/api/tenant/usage", authed(http.HandlerFunc(h.handleUsage)))

	admin := Chain(authed, auth.RequireRole(account.RoleAdmin))
	h.route("POST", "/api/accounts", admin(http.HandlerFunc(h.handleCreateAccount)))
	h.route("PATCH", "/api/accounts/{id}", admin(http.HandlerFunc(h.handleUpdateAccount)))
	h.route("PATCH", "/api/tenant", admin(http.HandlerFunc(h.handleUpdateTenant)))

	// AI routes. Every route runs the subscription gate, even where the
	// starter tier suffices, so a suspended tenant is blocked regardless
	// of plan. Flat-cost operations check credits up front; document
	// processing prices by document type, so its handler checks after
	// reading the body.
	h.route("POST", "/api/ai/chat/message",
		Chain(authed, auth.RequirePlan(account.PlanStarter), auth.RequireCredits(costChatMessage))(http.HandlerFunc(h.handleChatMessage)))
	h.route("POST", "/api/ai/content/generate",
		Chain(authed, auth.RequirePlan(account.PlanStarter), auth.RequireCredits(costContentGenerate))(http.HandlerFunc(h.handleContentGenerate)))
	h.route("POST", "/api/ai/documents/process",
		Chain(authed, auth.RequirePlan(account.PlanBusiness))(http.HandlerFunc(h.handleDocumentProcess)))
	h.route("POST", "/api/ai/inventory/predict",
		Chain(authed, auth.RequirePlan(account.PlanBusiness), auth.RequireCredits(costInventoryPredict))(http.HandlerFunc(h.handleInventoryPredict)))
	h.route("POST", "/api/ai/inventory/optimize",
		Chain(authed, auth.RequirePlan(account.PlanBusiness), auth.RequireCredits(costInventoryOptimize))(http.HandlerFunc(h.handleInventoryOptimize)))

	h.mux.HandleFunc("/", h.handleNotFound)
}

// route registers handler for method on pattern and, once per pattern, a
// method-less fallback so unmatched methods get a JSON 405 instead of the
// mux's plain-text default.
func (h *Handler) route(method, pattern string, handler http.Handler) {
	h.mux.Handle(method+" "+pattern, handler)
	if !h.fallbacks[pattern] {
		h.fallbacks[pattern] = true
		h.mux.HandleFunc(pattern, h.handleMethodNotAllowed)
	}
}

func (h *Handler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	api.WriteRejection(w, api.NewRejection(api.CodeNotFound, "not found"))
}

func (h *Handler) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	api.WriteRejection(w, api.NewRejection(api.CodeMethodNotAllowed, "method not allowed"))
}

// decodeJSON decodes the request body into v, translating failures into a
// rejection it writes itself. Callers return immediately on false.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			api.WriteRejection(w, api.NewRejection(api.CodeBadRequest,
				fmt.Sprintf("request body exceeds %d bytes", maxBytesErr.Limit)))
			return false
		}
		api.WriteRejection(w, api.NewRejection(api.CodeBadRequest, "invalid JSON body"))
		return false
	}
	return true
}
