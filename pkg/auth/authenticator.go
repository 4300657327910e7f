package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/automateiq/platform/pkg/account"
	"github.com/automateiq/platform/pkg/api"
	"github.com/automateiq/platform/pkg/auth/token"
	"github.com/automateiq/platform/pkg/observability"
	"github.com/automateiq/platform/pkg/storage"
)

// SessionCookieName is the cookie the Authenticator checks before falling
// back to the Authorization header.
const SessionCookieName = "aiq_session"

// DefaultTouchTimeout bounds the background last-active write.
const DefaultTouchTimeout = 3 * time.Second

// Store is the slice of the storage layer the Authenticator needs.
type Store interface {
	GetAccount(ctx context.Context, id string) (*account.Account, error)
	GetTenant(ctx context.Context, id string) (*account.Tenant, error)
	TouchAccountActivity(ctx context.Context, id string, at time.Time) error
}

// Config holds the Authenticator settings.
type Config struct {
	// Verifier validates session tokens. Required.
	Verifier *token.Verifier

	// Store loads the account and tenant behind a token. Required.
	Store Store

	// CookieName is the session cookie to check first.
	// Default: SessionCookieName.
	CookieName string

	// TouchTimeout bounds the detached last-active write.
	// Default: DefaultTouchTimeout.
	TouchTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.CookieName == "" {
		c.CookieName = SessionCookieName
	}
	if c.TouchTimeout == 0 {
		c.TouchTimeout = DefaultTouchTimeout
	}
}

// Authenticator turns a session token into a Session, loading and vetting
// the account and tenant on every request so revocation takes effect
// immediately rather than at token expiry.
type Authenticator struct {
	cfg Config
}

// NewAuthenticator validates the configuration and returns an Authenticator.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("auth: verifier is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("auth: store is required")
	}
	cfg.applyDefaults()
	return &Authenticator{cfg: cfg}, nil
}

// Failure reasons for the auth_failures metric. The vague 401 messages
// collapse several of these for clients; the metric keeps them apart.
const (
	reasonMissingCredential = "missing_credential"
	reasonTokenInvalid      = "token_invalid"
	reasonTokenExpired      = "token_expired"
	reasonAccountInactive   = "account_inactive"
	reasonTenantInactive    = "tenant_inactive"
	reasonStoreError        = "store_error"
)

// Middleware returns the authentication middleware. Rejections are written
// as JSON envelopes; authenticated requests continue with the Session in
// the context and a detached last-active touch in flight.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, reason, rej := a.authenticate(r)
			if rej != nil {
				observability.AuthFailuresTotal.WithLabelValues(reason).Inc()
				slog.Warn("authentication rejected",
					"code", rej.Code,
					"reason", reason,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr)
				api.WriteRejection(w, rej)
				return
			}

			a.touchActivity(r.Context(), sess.Account.ID)

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}

// authenticate resolves the request's token into a Session, or explains
// why it cannot. Lookup failures for accounts and tenants deliberately
// collapse into vague messages so a stolen token cannot be used to probe
// which stage failed; the precise reason goes to the metric only.
func (a *Authenticator) authenticate(r *http.Request) (*Session, string, *api.Rejection) {
	raw, ok := TokenFromRequest(r, a.cfg.CookieName)
	if !ok {
		return nil, reasonMissingCredential, api.NewRejection(api.CodeUnauthenticated, "authentication required")
	}

	claims, err := a.cfg.Verifier.Verify(raw)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			return nil, reasonTokenExpired, api.NewRejection(api.CodeTokenExpired, "session expired, please log in again")
		}
		return nil, reasonTokenInvalid, api.NewRejection(api.CodeTokenInvalid, "invalid session token")
	}

	ctx := r.Context()

	acct, err := a.cfg.Store.GetAccount(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, reasonAccountInactive, api.NewRejection(api.CodeUnauthenticated, "account not found or inactive")
		}
		slog.Error("loading account for session", "error", err, "account_id", claims.AccountID)
		return nil, reasonStoreError, api.NewRejection(api.CodeInternal, "internal server error")
	}
	if !acct.Active {
		return nil, reasonAccountInactive, api.NewRejection(api.CodeUnauthenticated, "account not found or inactive")
	}

	tenant, err := a.cfg.Store.GetTenant(ctx, acct.TenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, reasonTenantInactive, api.NewRejection(api.CodeUnauthenticated, "organization not found or inactive")
		}
		slog.Error("loading tenant for session", "error", err, "tenant_id", acct.TenantID)
		return nil, reasonStoreError, api.NewRejection(api.CodeInternal, "internal server error")
	}
	if !tenant.Active {
		return nil, reasonTenantInactive, api.NewRejection(api.CodeUnauthenticated, "organization not found or inactive")
	}

	return &Session{Account: acct, Tenant: tenant, Claims: claims}, "", nil
}

// TokenFromRequest pulls the raw session token from the request. The
// session cookie wins over the Authorization header when both are present.
func TokenFromRequest(r *http.Request, cookieName string) (string, bool) {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value, true
	}

	scheme, rest, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", false
	}
	return rest, true
}

// touchActivity records last-active in the background. The write is
// detached from the request context so a fast response or client
// disconnect does not cancel it, and failures only log at debug since
// the timestamp is advisory.
func (a *Authenticator) touchActivity(ctx context.Context, accountID string) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, a.cfg.TouchTimeout)
		defer cancel()
		if err := a.cfg.Store.TouchAccountActivity(ctx, accountID, time.Now()); err != nil {
			slog.Debug("touching account activity", "error", err, "account_id", accountID)
		}
	}()
}
