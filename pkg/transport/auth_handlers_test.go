package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/automateiq/platform/pkg/account"
	"github.com/automateiq/platform/pkg/api"
	"github.com/automateiq/platform/pkg/auth"
	"github.com/automateiq/platform/pkg/auth/token"
)

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", auth.SessionCookieName)
	return nil
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"organization_name": "Acme Retail",
		"email":             "Owner@Example.com",
		"name":              "Pat Owner",
		"password":          "first-password",
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	resp := decodeEnvelope(t, rec)
	if !resp.Success {
		t.Error("success = false, want true")
	}
	var sess sessionResponse
	if err := json.Unmarshal(resp.Data, &sess); err != nil {
		t.Fatalf("decoding session: %v", err)
	}

	if sess.Token == "" {
		t.Error("token missing from register response")
	}
	if sess.Account.Role != account.RoleAdmin {
		t.Errorf("role = %q, want %q", sess.Account.Role, account.RoleAdmin)
	}
	if sess.Account.Email != "owner@example.com" {
		t.Errorf("email = %q, want normalized %q", sess.Account.Email, "owner@example.com")
	}
	if sess.Tenant.Subscription.Plan != account.PlanStarter {
		t.Errorf("plan = %q, want %q", sess.Tenant.Subscription.Plan, account.PlanStarter)
	}
	if sess.Tenant.Slug != "acme-retail" {
		t.Errorf("slug = %q, want %q", sess.Tenant.Slug, "acme-retail")
	}
	if sess.Tenant.Usage.Users != 1 {
		t.Errorf("users usage = %d, want 1", sess.Tenant.Usage.Users)
	}

	c := sessionCookie(t, rec)
	if c.Value != sess.Token {
		t.Error("cookie value differs from response token")
	}
	if !c.HttpOnly {
		t.Error("cookie not HttpOnly")
	}
	if c.SameSite != http.SameSiteStrictMode {
		t.Errorf("cookie SameSite = %v, want Strict", c.SameSite)
	}
	if want := int(token.DefaultTTL.Seconds()); c.MaxAge != want {
		t.Errorf("cookie MaxAge = %d, want %d", c.MaxAge, want)
	}

	// The token opens the session for real.
	me := env.do(t, http.MethodGet, "/api/auth/me", nil, sess.Token)
	if me.Code != http.StatusOK {
		t.Errorf("me status = %d, body %s", me.Code, me.Body)
	}
}

func TestRegister_Validation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing organization", map[string]string{
			"email": "a@example.com", "name": "A", "password": "long-enough-1"}},
		{"missing name", map[string]string{
			"organization_name": "Org", "email": "a@example.com", "password": "long-enough-1"}},
		{"bad email", map[string]string{
			"organization_name": "Org", "email": "not-an-email", "name": "A", "password": "long-enough-1"}},
		{"short password", map[string]string{
			"organization_name": "Org", "email": "a@example.com", "name": "A", "password": "short"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/auth/register", tt.body, "")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d, body %s", rec.Code, http.StatusBadRequest, rec.Body)
			}
		})
	}
}

func TestRegister_InvalidJSON(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/auth/register", `{"organization_name":`, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedOrg(t, "First Org", "taken@example.com")

	rec := env.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"organization_name": "Second Org",
		"email":             "taken@example.com",
		"name":              "Second Admin",
		"password":          "second-password",
	}, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusConflict, rec.Body)
	}
	if resp := decodeEnvelope(t, rec); resp.Code != string(api.CodeConflict) {
		t.Errorf("code = %q, want %q", resp.Code, api.CodeConflict)
	}
}

func TestRegister_SlugCollisionGetsSuffix(t *testing.T) {
	env := newTestEnv(t, nil)

	first := env.seedOrg(t, "Same Name", "one@example.com")
	second := env.seedOrg(t, "Same Name", "two@example.com")

	if first.Tenant.Slug != "same-name" {
		t.Errorf("first slug = %q, want %q", first.Tenant.Slug, "same-name")
	}
	if !strings.HasPrefix(second.Tenant.Slug, "same-name-") {
		t.Errorf("second slug = %q, want same-name- prefix", second.Tenant.Slug)
	}
	if first.Tenant.Slug == second.Tenant.Slug {
		t.Error("slug collision not resolved")
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedOrg(t, "Login Org", "login@example.com")

	rec := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "login@example.com",
		"password": "seed-password-1",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var sess sessionResponse
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &sess); err != nil {
		t.Fatalf("decoding session: %v", err)
	}
	if sess.Token == "" {
		t.Error("token missing from login response")
	}
	if sess.Account.LoginCount != 1 {
		t.Errorf("login count = %d, want 1", sess.Account.LoginCount)
	}
	if sess.Account.LastLoginAt == nil {
		t.Error("last login time not set")
	}
	sessionCookie(t, rec)

	me := env.do(t, http.MethodGet, "/api/auth/me", nil, sess.Token)
	if me.Code != http.StatusOK {
		t.Errorf("me status = %d, body %s", me.Code, me.Body)
	}
}

func TestLogin_BadCredentialsAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedOrg(t, "Login Org", "known@example.com")

	wrongPassword := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "known@example.com", "password": "wrong-password-1",
	}, "")
	unknownEmail := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "nobody@example.com", "password": "wrong-password-1",
	}, "")

	for name, rec := range map[string]*httptest.ResponseRecorder{
		"wrong password": wrongPassword,
		"unknown email":  unknownEmail,
	} {
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want %d", name, rec.Code, http.StatusUnauthorized)
		}
	}
	if wrongPassword.Body.String() != unknownEmail.Body.String() {
		t.Errorf("rejections differ: %q vs %q", wrongPassword.Body, unknownEmail.Body)
	}
}

func TestLogin_DeactivatedAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Login Org", "gone@example.com")

	acct, err := env.store.GetAccount(context.Background(), sess.Account.ID)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	acct.Active = false
	if err := env.store.UpdateAccount(context.Background(), acct); err != nil {
		t.Fatalf("UpdateAccount failed: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "gone@example.com", "password": "seed-password-1",
	}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestLogin_SuspendedOrganization(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Suspended Org", "suspended@example.com")

	tenant, err := env.store.GetTenant(context.Background(), sess.Tenant.ID)
	if err != nil {
		t.Fatalf("GetTenant failed: %v", err)
	}
	tenant.Active = false
	if err := env.store.UpdateTenant(context.Background(), tenant); err != nil {
		t.Fatalf("UpdateTenant failed: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "suspended@example.com", "password": "seed-password-1",
	}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if resp := decodeEnvelope(t, rec); !strings.Contains(resp.Message, "organization") {
		t.Errorf("message = %q, want organization rejection", resp.Message)
	}
}

func TestLogout_ClearsCookie(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Logout Org", "logout@example.com")

	rec := env.do(t, http.MethodPost, "/api/auth/logout", nil, sess.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	c := sessionCookie(t, rec)
	if c.Value != "" {
		t.Errorf("cookie value = %q, want empty", c.Value)
	}
	if c.MaxAge >= 0 {
		t.Errorf("cookie MaxAge = %d, want negative", c.MaxAge)
	}
}

func TestRefresh_IssuesNewToken(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Refresh Org", "refresh@example.com")

	rec := env.do(t, http.MethodPost, "/api/auth/refresh", nil, sess.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var fresh sessionResponse
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &fresh); err != nil {
		t.Fatalf("decoding session: %v", err)
	}
	if fresh.Token == "" {
		t.Fatal("refresh returned no token")
	}
	sessionCookie(t, rec)

	me := env.do(t, http.MethodGet, "/api/auth/me", nil, fresh.Token)
	if me.Code != http.StatusOK {
		t.Errorf("me with refreshed token status = %d", me.Code)
	}
}

func TestRefresh_AcceptsExpiredToken(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Expired Org", "expired@example.com")

	// An issuer with a negative TTL signs tokens that are already past
	// expiry but carry a valid signature.
	expiredIssuer, err := token.NewIssuer(token.Config{Secret: testSecret, TTL: -time.Hour})
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}
	expired, err := expiredIssuer.Issue(sess.Account)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	// The expired token no longer authenticates.
	me := env.do(t, http.MethodGet, "/api/auth/me", nil, expired)
	if me.Code != http.StatusUnauthorized {
		t.Fatalf("me with expired token status = %d, want %d", me.Code, http.StatusUnauthorized)
	}

	// But refresh exchanges it for a live one.
	rec := env.do(t, http.MethodPost, "/api/auth/refresh", nil, expired)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body %s", rec.Code, rec.Body)
	}
	var fresh sessionResponse
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &fresh); err != nil {
		t.Fatalf("decoding session: %v", err)
	}
	if me := env.do(t, http.MethodGet, "/api/auth/me", nil, fresh.Token); me.Code != http.StatusOK {
		t.Errorf("me with refreshed token status = %d", me.Code)
	}
}

func TestRefresh_RejectsGarbage(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/auth/refresh", nil, "not-a-token")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if resp := decodeEnvelope(t, rec); resp.Code != string(api.CodeTokenInvalid) {
		t.Errorf("code = %q, want %q", resp.Code, api.CodeTokenInvalid)
	}
}

func TestRefresh_RejectsDeactivatedAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Refresh Org", "revoked@example.com")

	acct, err := env.store.GetAccount(context.Background(), sess.Account.ID)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	acct.Active = false
	if err := env.store.UpdateAccount(context.Background(), acct); err != nil {
		t.Fatalf("UpdateAccount failed: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/auth/refresh", nil, sess.Token)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestMe(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Me Org", "me@example.com")

	rec := env.do(t, http.MethodGet, "/api/auth/me", nil, sess.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var got sessionResponse
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &got); err != nil {
		t.Fatalf("decoding session: %v", err)
	}
	if got.Account.ID != sess.Account.ID {
		t.Errorf("account ID = %q, want %q", got.Account.ID, sess.Account.ID)
	}
	if got.Tenant.ID != sess.Tenant.ID {
		t.Errorf("tenant ID = %q, want %q", got.Tenant.ID, sess.Tenant.ID)
	}
	if got.Token != "" {
		t.Error("me response echoes a token, want none")
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("me response leaks password material")
	}
}

func TestMe_CookieAuthentication(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Cookie Org", "cookie@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: sess.Token})
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, body %s", rec.Code, rec.Body)
	}
}
