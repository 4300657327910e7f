package transport

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/automateiq/platform/pkg/account"
	"github.com/automateiq/platform/pkg/api"
	"github.com/automateiq/platform/pkg/auth"
	"github.com/automateiq/platform/pkg/observability"
	"github.com/automateiq/platform/pkg/storage"
)

// trialPeriod is the subscription period granted to new organizations.
const trialPeriod = 30 * 24 * time.Hour

type registerRequest struct {
	OrganizationName string `json:"organization_name"`
	Email            string `json:"email"`
	Name             string `json:"name"`
	Password         string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse is the payload for register, login, refresh, and me.
// The token is also set as a cookie; it is echoed in the body for
// non-browser clients.
type sessionResponse struct {
	Account *account.Account `json:"account"`
	Tenant  *account.Tenant  `json:"tenant"`
	Token   string           `json:"token,omitempty"`
}

// handleRegister creates an organization on the starter plan together
// with its first admin account and opens a session for it.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	req.OrganizationName = strings.TrimSpace(req.OrganizationName)
	req.Name = strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if req.OrganizationName == "" {
		api.WriteRejection(w, api.NewRejection(api.CodeBadRequest, "organization_name is required"))
		return
	}
	if req.Name == "" {
		api.WriteRejection(w, api.NewRejection(api.CodeBadRequest, "name is required"))
		return
	}
	if _, err := mail.ParseAddress(email); err != nil {
		api.WriteRejection(w, api.NewRejection(api.CodeBadRequest, "invalid email address"))
		return
	}
	if err := account.ValidatePassword(req.Password); err != nil {
		api.WriteRejection(w, api.NewRejection(api.CodeBadRequest, err.Error()))
		return
	}

	hash, err := account.HashPassword(req.Password)
	if err != nil {
		slog.Error("hashing password", "error", err)
		api.WriteRejection(w, api.NewRejection(api.CodeInternal, "internal server error"))
		return
	}

	now := time.Now().UTC()
	tenant := &account.Tenant{
		ID:     api.NewTenantID(),
		Name:   req.OrganizationName,
		Slug:   account.Slugify(req.OrganizationName),
		Active: true,
		Subscription: account.Subscription{
			Plan:        account.PlanStarter,
			Status:      account.StatusActive,
			PeriodStart: now,
			PeriodEnd:   now.Add(trialPeriod),
		},
		Limits:    account.DefaultLimits(account.PlanStarter),
		CreatedAt: now,
		UpdatedAt: now,
	}
	admin := &account.Account{
		ID:           api.NewAccountID(),
		TenantID:     tenant.ID,
		Email:        email,
		Name:         req.Name,
		PasswordHash: hash,
		Role:         account.RoleAdmin,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// A slug collision with another organization gets a random suffix
	// and another try; an email collision is the caller's to resolve.
	for attempt := 0; ; attempt++ {
		err = h.cfg.Store.CreateTenantWithAdmin(r.Context(), tenant, admin)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrConflict) {
			slog.Error("registering organization", "error", err)
			api.WriteRejection(w, api.NewRejection(api.CodeInternal, "internal server error"))
			return
		}
		if _, lookupErr := h.cfg.Store.GetAccountByEmail(r.Context(), email); lookupErr == nil {
			api.WriteRejection(w, api.NewRejection(api.CodeConflict, "email already registered"))
			return
		}
		if attempt == 2 {
			slog.Error("registering organization", "error", err, "slug", tenant.Slug)
			api.WriteRejection(w, api.NewRejection(api.CodeInternal, "internal server error"))
			return
		}
		tenant.Slug = account.Slugify(req.OrganizationName) + "-" + randomSuffix()
	}
	tenant.Usage.Users = 1 // the admin takes the first seat

	tok, err := h.cfg.Issuer.Issue(admin)
	if err != nil {
		slog.Error("issuing session token", "error", err, "account_id", admin.ID)
		api.WriteRejection(w, api.NewRejection(api.CodeInternal, "internal server error"))
		return
	}

	slog.Info("organization registered",
		"tenant_id", tenant.ID,
		"slug", tenant.Slug,
		"account_id", admin.ID)

	h.setSessionCookie(w, tok)
	api.WriteData(w, http.StatusCreated, sessionResponse{Account: admin, Tenant: tenant, Token: tok})
}

// handleLogin verifies credentials and opens a session. Bad email and
// bad password read identically to the caller.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	acct, err := h.cfg.Store.GetAccountByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.loginRejected(w, "invalid email or password")
			return
		}
		slog.Error("loading account for login", "error", err)
		api.WriteRejection(w, api.NewRejection(api.CodeInternal, "internal server error"))
		return
	}
	if !account.CheckPassword(acct.PasswordHash, req.Password) {
		h.loginRejected(w, "invalid email or password")
		return
	}
	if !acct.Active {
		h.loginRejected(w, "account not found or inactive")
		return
	}

	tenant, err := h.cfg.Store.GetTenant(r.Context(), acct.TenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.loginRejected(w, "organization not found or inactive")
			return
		}
		slog.Error("loading tenant for login", "error", err, "tenant_id", acct.TenantID)
		api.WriteRejection(w, api.NewRejection(api.CodeInternal, "internal server error"))
		return
	}
	if !tenant.Active {
		h.loginRejected(w, "organization not found or inactive")
		return
	}

	now := time.Now().UTC()
	if err := h.cfg.Store.RecordLogin(r.Context(), acct.ID, now); err != nil {
		// The session still opens; only the bookkeeping is stale.
		slog.Warn("recording login", "error", err, "account_id", acct.ID)
	} else {
		acct.LastLoginAt = &now
		acct.LastActiveAt = &now
		acct.LoginCount++
	}

	tok, err := h.cfg.Issuer.Issue(acct)
	if err != nil {
		slog.Error("issuing session token", "error", err, "account_id", acct.ID)
		api.WriteRejection(w, api.NewRejection(api.CodeInternal, "internal server error"))
		return
	}

	observability.LoginsTotal.WithLabelValues("success").Inc()
	slog.Info("login", "account_id", acct.ID, "tenant_id", tenant.ID)

	h.setSessionCookie(w, tok)
	api.WriteData(w, http.StatusOK, sessionResponse{Account: acct, Tenant: tenant, Token: tok})
}

func (h *Handler) loginRejected(w http.ResponseWriter, msg string) {
	observability.LoginsTotal.WithLabelValues("failure").Inc()
	api.WriteRejection(w, api.NewRejection(api.CodeUnauthenticated, msg))
}

// handleLogout clears the session cookie. The token itself stays valid
// until expiry; deactivating the account is the server-side revocation.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.clearSessionCookie(w)
	api.WriteData(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// handleRefresh exchanges a valid session token for a fresh one. The
// account and tenant are re-vetted so refresh cannot outlive a
// deactivation.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := auth.TokenFromRequest(r, h.cfg.CookieName)
	if !ok {
		api.WriteRejection(w, api.NewRejection(api.CodeUnauthenticated, "authentication required"))
		return
	}

	claims, err := h.cfg.Verifier.Decode(raw)
	if err != nil {
		api.WriteRejection(w, api.NewRejection(api.CodeTokenInvalid, "invalid session token"))
		return
	}

	acct, err := h.cfg.Store.GetAccount(r.Context(), claims.AccountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			api.WriteRejection(w, api.NewRejection(api.CodeUnauthenticated, "account not found or inactive"))
			return
		}
		slog.Error("loading account for refresh", "error", err, "account_id", claims.AccountID)
		api.WriteRejection(w, api.NewRejection(api.CodeInternal, "internal server error"))
		return
	}
	if !acct.Active {
		api.WriteRejection(w, api.NewRejection(api.CodeUnauthenticated, "account not found or inactive"))
		return
	}

	tenant, err := h.cfg.Store.GetTenant(r.Context(), acct.TenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			api.WriteRejection(w, api.NewRejection(api.CodeUnauthenticated, "organization not found or inactive"))
			return
		}
		slog.Error("loading tenant for refresh", "error", err, "tenant_id", acct.TenantID)
		api.WriteRejection(w, api.NewRejection(api.CodeInternal, "internal server error"))
		return
	}
	if !tenant.Active {
		api.WriteRejection(w, api.NewRejection(api.CodeUnauthenticated, "organization not found or inactive"))
		return
	}

	tok, err := h.cfg.Issuer.Issue(acct)
	if err != nil {
		slog.Error("issuing session token", "error", err, "account_id", acct.ID)
		api.WriteRejection(w, api.NewRejection(api.CodeInternal, "internal server error"))
		return
	}

	h.setSessionCookie(w, tok)
	api.WriteData(w, http.StatusOK, sessionResponse{Account: acct, Tenant: tenant, Token: tok})
}

// handleMe returns the session's account and tenant as loaded by the
// authenticator, without reissuing the token.
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSession(r.Context())
	api.WriteData(w, http.StatusOK, sessionResponse{Account: sess.Account, Tenant: sess.Tenant})
}

// setSessionCookie writes the session cookie. Its lifetime matches the
// token's so the browser drops the cookie when the token inside it
// stops working.
func (h *Handler) setSessionCookie(w http.ResponseWriter, tok string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    tok,
		Path:     "/",
		MaxAge:   int(h.cfg.Issuer.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// randomSuffix returns three random bytes in hex for slug collisions.
func randomSuffix() string {
	b := make([]byte, 3)
	rand.Read(b)
	return hex.EncodeToString(b)
}
