package transport

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/automateiq/platform/pkg/account"
	"github.com/automateiq/platform/pkg/api"
	"github.com/automateiq/platform/pkg/storage"
)

// planInfo is one catalogue entry: a tier and the limits it grants.
type planInfo struct {
	Plan   account.Plan   `json:"plan"`
	Limits account.Limits `json:"limits"`
}

// handlePlans returns the static plan catalogue.
func (h *Handler) handlePlans(w http.ResponseWriter, r *http.Request) {
	plans := []planInfo{
		{Plan: account.PlanStarter, Limits: account.DefaultLimits(account.PlanStarter)},
		{Plan: account.PlanBusiness, Limits: account.DefaultLimits(account.PlanBusiness)},
		{Plan: account.PlanEnterprise, Limits: account.DefaultLimits(account.PlanEnterprise)},
	}
	api.WriteData(w, http.StatusOK, plans)
}

type webhookEvent struct {
	Type string      `json:"type"`
	Data webhookData `json:"data"`
}

type webhookData struct {
	TenantID    string     `json:"tenant_id"`
	Plan        string     `json:"plan"`
	Status      string     `json:"status"`
	PeriodStart *time.Time `json:"period_start"`
	PeriodEnd   *time.Time `json:"period_end"`
}

// handleWebhook applies subscription changes pushed by the billing
// provider. Unknown event types are acknowledged so the provider stops
// redelivering them. Limits reset to the plan defaults only when the
// plan itself changes; a pure status flip keeps negotiated overrides.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get("X-Webhook-Secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(h.cfg.WebhookSecret)) != 1 {
		slog.Warn("billing webhook rejected", "remote_addr", r.RemoteAddr)
		api.WriteRejection(w, api.NewRejection(api.CodeUnauthenticated, "invalid webhook secret"))
		return
	}

	var ev webhookEvent
	if !h.decodeJSON(w, r, &ev) {
		return
	}

	switch ev.Type {
	case "subscription.updated":
		if !h.applySubscriptionUpdate(w, r, ev.Data, false) {
			return
		}
	case "subscription.cancelled":
		if !h.applySubscriptionUpdate(w, r, ev.Data, true) {
			return
		}
	default:
		slog.Warn("unhandled billing webhook event", "type", ev.Type)
	}

	api.WriteData(w, http.StatusOK, map[string]bool{"received": true})
}

// applySubscriptionUpdate folds the event into the tenant's
// subscription. It writes the error response itself and reports
// whether the caller should acknowledge.
func (h *Handler) applySubscriptionUpdate(w http.ResponseWriter, r *http.Request, data webhookData, cancel bool) bool {
	if data.TenantID == "" {
		api.WriteRejection(w, api.NewRejection(api.CodeBadRequest, "tenant_id is required"))
		return false
	}

	tenant, err := h.cfg.Store.GetTenant(r.Context(), data.TenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			api.WriteRejection(w, api.NewRejection(api.CodeNotFound, "organization not found"))
			return false
		}
		slog.Error("loading tenant for webhook", "error", err, "tenant_id", data.TenantID)
		api.WriteRejection(w, api.NewRejection(api.CodeInternal, "internal server error"))
		return false
	}

	sub := tenant.Subscription
	var limits *account.Limits

	if cancel {
		sub.Status = account.StatusCancelled
	} else {
		if data.Plan != "" {
			plan, err := account.ParsePlan(data.Plan)
			if err != nil {
				api.WriteRejection(w, api.NewRejection(api.CodeBadRequest, err.Error()))
				return false
			}
			if plan != sub.Plan {
				l := account.DefaultLimits(plan)
				limits = &l
			}
			sub.Plan = plan
		}
		if data.Status != "" {
			status, err := account.ParseSubscriptionStatus(data.Status)
			if err != nil {
				api.WriteRejection(w, api.NewRejection(api.CodeBadRequest, err.Error()))
				return false
			}
			sub.Status = status
		}
		if data.PeriodStart != nil {
			sub.PeriodStart = *data.PeriodStart
		}
		if data.PeriodEnd != nil {
			sub.PeriodEnd = *data.PeriodEnd
		}
	}

	if err := h.cfg.Store.UpdateSubscription(r.Context(), tenant.ID, sub, limits); err != nil {
		slog.Error("updating subscription", "error", err, "tenant_id", tenant.ID)
		api.WriteRejection(w, api.NewRejection(api.CodeInternal, "internal server error"))
		return false
	}

	slog.Info("subscription updated",
		"tenant_id", tenant.ID,
		"plan", sub.Plan,
		"status", sub.Status,
		"limits_reset", limits != nil)
	return true
}
