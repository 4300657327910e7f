package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/automateiq/platform/pkg/account"
	"github.com/automateiq/platform/pkg/api"
)

// addMember creates a teammate through the admin API and returns it.
func (e *testEnv) addMember(t *testing.T, adminToken, email, role string) *account.Account {
	t.Helper()

	body := map[string]string{
		"email":    email,
		"name":     "Member",
		"password": "member-password-1",
	}
	if role != "" {
		body["role"] = role
	}
	rec := e.do(t, http.MethodPost, "/api/accounts", body, adminToken)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create account status = %d, body %s", rec.Code, rec.Body)
	}

	var acct account.Account
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &acct); err != nil {
		t.Fatalf("decoding account: %v", err)
	}
	return &acct
}

func TestListAccounts(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "List Org", "admin@list.example.com")
	env.addMember(t, sess.Token, "one@list.example.com", "")
	env.addMember(t, sess.Token, "two@list.example.com", "")

	rec := env.do(t, http.MethodGet, "/api/accounts", nil, sess.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	resp := decodeEnvelope(t, rec)
	var accounts []*account.Account
	if err := json.Unmarshal(resp.Data, &accounts); err != nil {
		t.Fatalf("decoding accounts: %v", err)
	}
	if len(accounts) != 3 {
		t.Errorf("len(accounts) = %d, want 3", len(accounts))
	}
	if resp.Pagination == nil {
		t.Fatal("pagination missing from list response")
	}
	if resp.Pagination.Total != 3 {
		t.Errorf("pagination total = %d, want 3", resp.Pagination.Total)
	}
}

func TestListAccounts_Pagination(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Page Org", "admin@page.example.com")
	for i := 0; i < 4; i++ {
		env.addMember(t, sess.Token, fmt.Sprintf("m%d@page.example.com", i), "")
	}

	rec := env.do(t, http.MethodGet, "/api/accounts?page=2&per_page=2", nil, sess.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	resp := decodeEnvelope(t, rec)
	var accounts []*account.Account
	if err := json.Unmarshal(resp.Data, &accounts); err != nil {
		t.Fatalf("decoding accounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Errorf("len(accounts) = %d, want 2", len(accounts))
	}
	if resp.Pagination.Page != 2 || resp.Pagination.Total != 5 || resp.Pagination.TotalPages != 3 {
		t.Errorf("pagination = %+v, want page 2 of 5 items in 3 pages", resp.Pagination)
	}
}

func TestListAccounts_TenantScoped(t *testing.T) {
	env := newTestEnv(t, nil)
	first := env.seedOrg(t, "First Org", "admin@first.example.com")
	second := env.seedOrg(t, "Second Org", "admin@second.example.com")
	env.addMember(t, first.Token, "member@first.example.com", "")

	rec := env.do(t, http.MethodGet, "/api/accounts", nil, second.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var accounts []*account.Account
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &accounts); err != nil {
		t.Fatalf("decoding accounts: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("len(accounts) = %d, want 1", len(accounts))
	}
	if accounts[0].TenantID != second.Tenant.ID {
		t.Errorf("account tenant = %q, want %q", accounts[0].TenantID, second.Tenant.ID)
	}
}

func TestCreateAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Create Org", "admin@create.example.com")

	acct := env.addMember(t, sess.Token, "staff@create.example.com", "")
	if acct.Role != account.RoleStaff {
		t.Errorf("default role = %q, want %q", acct.Role, account.RoleStaff)
	}
	if !acct.Active {
		t.Error("new account not active")
	}
	if acct.TenantID != sess.Tenant.ID {
		t.Errorf("tenant = %q, want %q", acct.TenantID, sess.Tenant.ID)
	}

	manager := env.addMember(t, sess.Token, "manager@create.example.com", "manager")
	if manager.Role != account.RoleManager {
		t.Errorf("role = %q, want %q", manager.Role, account.RoleManager)
	}

	// The supplied password opens a session for the new member.
	rec := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "staff@create.example.com", "password": "member-password-1",
	}, "")
	if rec.Code != http.StatusOK {
		t.Errorf("member login status = %d, body %s", rec.Code, rec.Body)
	}
}

func TestCreateAccount_RequiresAdmin(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Role Org", "admin@role.example.com")
	env.addMember(t, sess.Token, "staff@role.example.com", "")

	login := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "staff@role.example.com", "password": "member-password-1",
	}, "")
	var staff sessionResponse
	if err := json.Unmarshal(decodeEnvelope(t, login).Data, &staff); err != nil {
		t.Fatalf("decoding session: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/accounts", map[string]string{
		"email": "new@role.example.com", "name": "New", "password": "member-password-1",
	}, staff.Token)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	if resp := decodeEnvelope(t, rec); resp.Code != string(api.CodeForbidden) {
		t.Errorf("code = %q, want %q", resp.Code, api.CodeForbidden)
	}
}

func TestCreateAccount_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Dup Org", "admin@dup.example.com")
	env.addMember(t, sess.Token, "member@dup.example.com", "")

	rec := env.do(t, http.MethodPost, "/api/accounts", map[string]string{
		"email": "member@dup.example.com", "name": "Again", "password": "member-password-1",
	}, sess.Token)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestCreateAccount_SeatLimit(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Full Org", "admin@full.example.com")

	// Starter allows five seats; the admin already takes one.
	for i := 0; i < 4; i++ {
		env.addMember(t, sess.Token, fmt.Sprintf("m%d@full.example.com", i), "")
	}

	rec := env.do(t, http.MethodPost, "/api/accounts", map[string]string{
		"email": "overflow@full.example.com", "name": "Overflow", "password": "member-password-1",
	}, sess.Token)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusTooManyRequests, rec.Body)
	}
	if resp := decodeEnvelope(t, rec); resp.Code != string(api.CodeQuotaExhausted) {
		t.Errorf("code = %q, want %q", resp.Code, api.CodeQuotaExhausted)
	}
}

func TestCreateAccount_InvalidRole(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Role Org", "admin@badrole.example.com")

	rec := env.do(t, http.MethodPost, "/api/accounts", map[string]string{
		"email": "x@badrole.example.com", "name": "X", "password": "member-password-1",
		"role": "superuser",
	}, sess.Token)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestUpdateAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Update Org", "admin@update.example.com")
	member := env.addMember(t, sess.Token, "member@update.example.com", "")

	rec := env.do(t, http.MethodPatch, "/api/accounts/"+member.ID, map[string]any{
		"name": "Renamed", "role": "manager", "active": false,
	}, sess.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var updated account.Account
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &updated); err != nil {
		t.Fatalf("decoding account: %v", err)
	}
	if updated.Name != "Renamed" {
		t.Errorf("name = %q, want %q", updated.Name, "Renamed")
	}
	if updated.Role != account.RoleManager {
		t.Errorf("role = %q, want %q", updated.Role, account.RoleManager)
	}
	if updated.Active {
		t.Error("active = true, want false")
	}

	// Deactivation revokes the member's ability to log in.
	login := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "member@update.example.com", "password": "member-password-1",
	}, "")
	if login.Code != http.StatusUnauthorized {
		t.Errorf("deactivated member login status = %d, want %d", login.Code, http.StatusUnauthorized)
	}
}

func TestUpdateAccount_MalformedID(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "ID Org", "admin@id.example.com")

	rec := env.do(t, http.MethodPatch, "/api/accounts/not-an-id", map[string]any{
		"name": "X",
	}, sess.Token)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestUpdateAccount_CrossTenantReadsAsAbsent(t *testing.T) {
	env := newTestEnv(t, nil)
	first := env.seedOrg(t, "First Org", "admin@xfirst.example.com")
	second := env.seedOrg(t, "Second Org", "admin@xsecond.example.com")
	member := env.addMember(t, first.Token, "member@xfirst.example.com", "")

	rec := env.do(t, http.MethodPatch, "/api/accounts/"+member.ID, map[string]any{
		"name": "Hijacked",
	}, second.Token)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if resp := decodeEnvelope(t, rec); resp.Code != string(api.CodeNotFound) {
		t.Errorf("code = %q, want %q", resp.Code, api.CodeNotFound)
	}
}

func TestUpdateAccount_SelfLockoutBlocked(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Lockout Org", "admin@lockout.example.com")

	deactivate := env.do(t, http.MethodPatch, "/api/accounts/"+sess.Account.ID, map[string]any{
		"active": false,
	}, sess.Token)
	if deactivate.Code != http.StatusBadRequest {
		t.Errorf("self deactivate status = %d, want %d", deactivate.Code, http.StatusBadRequest)
	}

	demote := env.do(t, http.MethodPatch, "/api/accounts/"+sess.Account.ID, map[string]any{
		"role": "staff",
	}, sess.Token)
	if demote.Code != http.StatusBadRequest {
		t.Errorf("self demote status = %d, want %d", demote.Code, http.StatusBadRequest)
	}
}

func TestGetTenant(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Tenant Org", "admin@tenant.example.com")

	rec := env.do(t, http.MethodGet, "/api/tenant", nil, sess.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var tenant account.Tenant
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &tenant); err != nil {
		t.Fatalf("decoding tenant: %v", err)
	}
	if tenant.ID != sess.Tenant.ID {
		t.Errorf("tenant ID = %q, want %q", tenant.ID, sess.Tenant.ID)
	}
}

func TestUpdateTenant(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Old Name", "admin@rename.example.com")

	rec := env.do(t, http.MethodPatch, "/api/tenant", map[string]string{
		"name": "New Name",
	}, sess.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var tenant account.Tenant
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &tenant); err != nil {
		t.Fatalf("decoding tenant: %v", err)
	}
	if tenant.Name != "New Name" {
		t.Errorf("name = %q, want %q", tenant.Name, "New Name")
	}
	if tenant.Slug != "new-name" {
		t.Errorf("slug = %q, want %q", tenant.Slug, "new-name")
	}
}

func TestUpdateTenant_RequiresAdmin(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Guarded Org", "admin@guarded.example.com")
	env.addMember(t, sess.Token, "staff@guarded.example.com", "")

	login := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "staff@guarded.example.com", "password": "member-password-1",
	}, "")
	var staff sessionResponse
	if err := json.Unmarshal(decodeEnvelope(t, login).Data, &staff); err != nil {
		t.Fatalf("decoding session: %v", err)
	}

	rec := env.do(t, http.MethodPatch, "/api/tenant", map[string]string{
		"name": "Renamed",
	}, staff.Token)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestUpdateTenant_NameTaken(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedOrg(t, "Taken Name", "admin@taken.example.com")
	sess := env.seedOrg(t, "Other Name", "admin@other.example.com")

	rec := env.do(t, http.MethodPatch, "/api/tenant", map[string]string{
		"name": "Taken Name",
	}, sess.Token)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d, body %s", rec.Code, http.StatusConflict, rec.Body)
	}
}

func TestUsage(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Usage Org", "admin@usage.example.com")
	env.addMember(t, sess.Token, "member@usage.example.com", "")

	rec := env.do(t, http.MethodGet, "/api/tenant/usage", nil, sess.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var report struct {
		Plan  account.Plan `json:"plan"`
		Usage map[account.Resource]struct {
			Limit     account.Limit `json:"limit"`
			Used      int64         `json:"used"`
			Remaining account.Limit `json:"remaining"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &report); err != nil {
		t.Fatalf("decoding usage: %v", err)
	}

	if report.Plan != account.PlanStarter {
		t.Errorf("plan = %q, want %q", report.Plan, account.PlanStarter)
	}
	users := report.Usage[account.ResourceUsers]
	if users.Used != 2 {
		t.Errorf("users used = %d, want 2", users.Used)
	}
	if users.Limit != 5 || users.Remaining != 3 {
		t.Errorf("users limit/remaining = %v/%v, want 5/3", users.Limit, users.Remaining)
	}
	credits := report.Usage[account.ResourceAICredits]
	if credits.Limit != 100 || credits.Used != 0 {
		t.Errorf("credits limit/used = %v/%d, want 100/0", credits.Limit, credits.Used)
	}
}
