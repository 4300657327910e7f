package auth

import (
	"log/slog"
	"net/http"

	"github.com/automateiq/platform/pkg/account"
	"github.com/automateiq/platform/pkg/api"
	"github.com/automateiq/platform/pkg/observability"
)

// RequireRole rejects the request unless the session account holds one of
// the allowed roles. It must run behind the Authenticator middleware.
func RequireRole(roles ...account.Role) func(http.Handler) http.Handler {
	allowed := make(map[account.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := SessionFromContext(r.Context())
			if !ok {
				gateRejected(w, r, "role", api.NewRejection(api.CodeUnauthenticated, "authentication required"))
				return
			}
			if _, ok := allowed[sess.Account.Role]; !ok {
				gateRejected(w, r, "role", api.NewRejection(api.CodeForbidden, "insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePlan rejects the request unless the tenant's subscription is
// active and its plan meets the minimum. The status check runs first: a
// past-due enterprise tenant is told to fix billing, never to upgrade.
func RequirePlan(min account.Plan) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := SessionFromContext(r.Context())
			if !ok {
				gateRejected(w, r, "subscription", api.NewRejection(api.CodeUnauthenticated, "authentication required"))
				return
			}
			sub := sess.Tenant.Subscription
			if sub.Status != account.StatusActive {
				gateRejected(w, r, "subscription", api.NewSubscriptionRequired(string(sub.Status)))
				return
			}
			if !sub.Plan.AtLeast(min) {
				gateRejected(w, r, "subscription", api.NewPlanUpgradeRequired(string(min), string(sub.Plan)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireCredits rejects the request unless the tenant can afford cost AI
// credits. The gate only checks; handlers debit through the store after
// the metered operation succeeds, so a failed operation costs nothing.
func RequireCredits(cost int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := SessionFromContext(r.Context())
			if !ok {
				gateRejected(w, r, "quota", api.NewRejection(api.CodeUnauthenticated, "authentication required"))
				return
			}
			if rej := CheckCredits(sess, cost); rej != nil {
				gateRejected(w, r, "quota", rej)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CheckCredits reports whether the session's tenant can afford cost AI
// credits against the usage snapshot loaded at authentication. Costs
// below one are charged as one. Handlers whose cost depends on the
// request body call this directly after decoding.
func CheckCredits(sess *Session, cost int64) *api.Rejection {
	if cost < 1 {
		cost = 1
	}
	limit := sess.Tenant.Limits.Get(account.ResourceAICredits)
	if limit.IsUnlimited() {
		return nil
	}
	used := sess.Tenant.Usage.Get(account.ResourceAICredits)
	if !limit.Allows(used, cost) {
		return api.NewQuotaExhausted(cost, limit.Remaining(used))
	}
	return nil
}

// RejectQuota writes a quota rejection produced by CheckCredits, counting
// it under the same gate label as RequireCredits.
func RejectQuota(w http.ResponseWriter, r *http.Request, rej *api.Rejection) {
	gateRejected(w, r, "quota", rej)
}

func gateRejected(w http.ResponseWriter, r *http.Request, gate string, rej *api.Rejection) {
	observability.GateRejectionsTotal.WithLabelValues(gate, string(rej.Code)).Inc()
	slog.Warn("request rejected by gate",
		"gate", gate,
		"code", rej.Code,
		"path", r.URL.Path)
	api.WriteRejection(w, rej)
}
