package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const readyCheckTimeout = 5 * time.Second

// handleHealthz reports process liveness. It touches no dependencies so a
// degraded store or engine never makes the orchestrator restart the
// process.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleReadyz reports whether the platform can serve traffic, checking
// the store and the AI engine. Responses use a plain readiness document
// rather than the API envelope since the consumer is an orchestrator,
// not an API client.
func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
	defer cancel()

	checks := map[string]string{
		"storage": "ok",
		"engine":  "ok",
	}
	ready := true

	if err := h.cfg.Store.HealthCheck(ctx); err != nil {
		checks["storage"] = err.Error()
		ready = false
	}
	if err := h.cfg.Engine.Health(ctx); err != nil {
		checks["engine"] = err.Error()
		ready = false
	}

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}
