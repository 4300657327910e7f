package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/automateiq/platform/pkg/account"
	"github.com/automateiq/platform/pkg/api"
)

func (e *testEnv) doWebhook(t *testing.T, secret string, event any) *httptest.ResponseRecorder {
	t.Helper()

	buf, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshaling event: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/billing/webhook", bytes.NewReader(buf))
	if secret != "" {
		req.Header.Set("X-Webhook-Secret", secret)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestPlans(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/billing/plans", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var plans []planInfo
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &plans); err != nil {
		t.Fatalf("decoding plans: %v", err)
	}
	if len(plans) != 3 {
		t.Fatalf("len(plans) = %d, want 3", len(plans))
	}
	if plans[0].Plan != account.PlanStarter || plans[0].Limits.AICredits != 100 {
		t.Errorf("plans[0] = %+v, want starter with 100 credits", plans[0])
	}
	if plans[2].Plan != account.PlanEnterprise || !plans[2].Limits.Users.IsUnlimited() {
		t.Errorf("plans[2] = %+v, want enterprise with unlimited users", plans[2])
	}
}

func TestWebhook_RejectsBadSecret(t *testing.T) {
	env := newTestEnv(t, nil)

	for name, secret := range map[string]string{
		"missing secret": "",
		"wrong secret":   "wrong-secret",
	} {
		rec := env.doWebhook(t, secret, map[string]any{"type": "subscription.updated"})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want %d", name, rec.Code, http.StatusUnauthorized)
		}
	}
}

func TestWebhook_PlanUpgradeResetsLimits(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Upgrade Org", "admin@upgrade.example.com")

	rec := env.doWebhook(t, testWebhookSecret, map[string]any{
		"type": "subscription.updated",
		"data": map[string]any{
			"tenant_id": sess.Tenant.ID,
			"plan":      "business",
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var ack struct {
		Received bool `json:"received"`
	}
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &ack); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	if !ack.Received {
		t.Error("received = false, want true")
	}

	tenant, err := env.store.GetTenant(context.Background(), sess.Tenant.ID)
	if err != nil {
		t.Fatalf("GetTenant failed: %v", err)
	}
	if tenant.Subscription.Plan != account.PlanBusiness {
		t.Errorf("plan = %q, want %q", tenant.Subscription.Plan, account.PlanBusiness)
	}
	if tenant.Limits.AICredits != 1000 || tenant.Limits.Users != 25 {
		t.Errorf("limits = %+v, want business defaults", tenant.Limits)
	}
}

func TestWebhook_StatusChangeKeepsLimits(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "PastDue Org", "admin@pastdue.example.com")

	rec := env.doWebhook(t, testWebhookSecret, map[string]any{
		"type": "subscription.updated",
		"data": map[string]any{
			"tenant_id": sess.Tenant.ID,
			"status":    "past_due",
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	tenant, err := env.store.GetTenant(context.Background(), sess.Tenant.ID)
	if err != nil {
		t.Fatalf("GetTenant failed: %v", err)
	}
	if tenant.Subscription.Status != account.StatusPastDue {
		t.Errorf("status = %q, want %q", tenant.Subscription.Status, account.StatusPastDue)
	}
	if tenant.Subscription.Plan != account.PlanStarter {
		t.Errorf("plan = %q, want unchanged %q", tenant.Subscription.Plan, account.PlanStarter)
	}
	if tenant.Limits.Users != 5 {
		t.Errorf("users limit = %v, want untouched 5", tenant.Limits.Users)
	}
}

func TestWebhook_PeriodUpdate(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Period Org", "admin@period.example.com")

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	rec := env.doWebhook(t, testWebhookSecret, map[string]any{
		"type": "subscription.updated",
		"data": map[string]any{
			"tenant_id":    sess.Tenant.ID,
			"period_start": start,
			"period_end":   end,
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	tenant, err := env.store.GetTenant(context.Background(), sess.Tenant.ID)
	if err != nil {
		t.Fatalf("GetTenant failed: %v", err)
	}
	if !tenant.Subscription.PeriodStart.Equal(start) || !tenant.Subscription.PeriodEnd.Equal(end) {
		t.Errorf("period = %v..%v, want %v..%v",
			tenant.Subscription.PeriodStart, tenant.Subscription.PeriodEnd, start, end)
	}
}

func TestWebhook_Cancelled(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "Cancel Org", "admin@cancel.example.com")

	rec := env.doWebhook(t, testWebhookSecret, map[string]any{
		"type": "subscription.cancelled",
		"data": map[string]any{"tenant_id": sess.Tenant.ID},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	tenant, err := env.store.GetTenant(context.Background(), sess.Tenant.ID)
	if err != nil {
		t.Fatalf("GetTenant failed: %v", err)
	}
	if tenant.Subscription.Status != account.StatusCancelled {
		t.Errorf("status = %q, want %q", tenant.Subscription.Status, account.StatusCancelled)
	}
	if tenant.Subscription.Plan != account.PlanStarter {
		t.Errorf("plan = %q, want retained %q", tenant.Subscription.Plan, account.PlanStarter)
	}
}

func TestWebhook_UnknownTypeAcknowledged(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.doWebhook(t, testWebhookSecret, map[string]any{
		"type": "invoice.paid",
		"data": map[string]any{"tenant_id": "tnt_whatever"},
	})
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestWebhook_UnknownTenant(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.doWebhook(t, testWebhookSecret, map[string]any{
		"type": "subscription.updated",
		"data": map[string]any{"tenant_id": "tnt_000000000000000000000000", "plan": "business"},
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestWebhook_InvalidPlan(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedOrg(t, "BadPlan Org", "admin@badplan.example.com")

	rec := env.doWebhook(t, testWebhookSecret, map[string]any{
		"type": "subscription.updated",
		"data": map[string]any{"tenant_id": sess.Tenant.ID, "plan": "platinum"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if resp := decodeEnvelope(t, rec); resp.Code != string(api.CodeBadRequest) {
		t.Errorf("code = %q, want %q", resp.Code, api.CodeBadRequest)
	}
}

func TestWebhook_MissingTenantID(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.doWebhook(t, testWebhookSecret, map[string]any{
		"type": "subscription.updated",
		"data": map[string]any{"plan": "business"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
