package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/automateiq/platform/pkg/account"
	"github.com/automateiq/platform/pkg/api"
	"github.com/automateiq/platform/pkg/auth"
	"github.com/automateiq/platform/pkg/engine"
	"github.com/automateiq/platform/pkg/observability"
	"github.com/automateiq/platform/pkg/storage"
)

// Credit costs per metered operation.
const (
	costChatMessage       int64 = 1
	costContentGenerate   int64 = 5
	costInventoryPredict  int64 = 10
	costInventoryOptimize int64 = 15
	costDocumentDefault   int64 = 2
)

// documentCosts prices document processing by declared type. Types the
// platform does not know cost the general rate.
var documentCosts = map[string]int64{
	"general":  2,
	"receipt":  3,
	"invoice":  5,
	"contract": 8,
}

// Operation labels, shared by metrics and logs.
const (
	opChatMessage       = "chat_message"
	opContentGenerate   = "content_generate"
	opDocumentProcess   = "document_process"
	opInventoryPredict  = "inventory_predict"
	opInventoryOptimize = "inventory_optimize"
)

func (h *Handler) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	h.proxyAI(w, r, opChatMessage, "/v1/chat/message", costChatMessage, body)
}

func (h *Handler) handleContentGenerate(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	h.proxyAI(w, r, opContentGenerate, "/v1/content/generate", costContentGenerate, body)
}

// handleDocumentProcess prices by the document_type declared in the
// body, so its credit check runs here instead of in a route gate. A
// body the engine will reject prices at the default; the engine's
// rejection relays without a debit.
func (h *Handler) handleDocumentProcess(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	cost := documentCost(body)
	sess := auth.MustSession(r.Context())
	if rej := auth.CheckCredits(sess, cost); rej != nil {
		auth.RejectQuota(w, r, rej)
		return
	}

	h.proxyAI(w, r, opDocumentProcess, "/v1/documents/process", cost, body)
}

func (h *Handler) handleInventoryPredict(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	h.proxyAI(w, r, opInventoryPredict, "/v1/inventory/predict", costInventoryPredict, body)
}

func (h *Handler) handleInventoryOptimize(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	h.proxyAI(w, r, opInventoryOptimize, "/v1/inventory/optimize", costInventoryOptimize, body)
}

func documentCost(body []byte) int64 {
	var meta struct {
		DocumentType string `json:"document_type"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return costDocumentDefault
	}
	if cost, ok := documentCosts[meta.DocumentType]; ok {
		return cost
	}
	return costDocumentDefault
}

// readBody drains the request body for relaying. The size cap comes
// from the MaxBytes middleware.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			api.WriteRejection(w, api.NewRejection(api.CodeBadRequest,
				fmt.Sprintf("request body exceeds %d bytes", maxBytesErr.Limit)))
			return nil, false
		}
		api.WriteRejection(w, api.NewRejection(api.CodeBadRequest, "reading request body"))
		return nil, false
	}
	return body, true
}

// proxyAI relays a metered operation to the engine and debits credits
// after the engine's success response has gone out. Billing follows
// delivery: a failed operation costs nothing, and a response the
// caller never saw is never charged for.
func (h *Handler) proxyAI(w http.ResponseWriter, r *http.Request, op, path string, cost int64, body []byte) {
	sess := auth.MustSession(r.Context())
	tok, _ := auth.TokenFromRequest(r, h.cfg.CookieName)

	res, err := h.cfg.Engine.Proxy(r.Context(), engine.Request{
		Operation: op,
		Path:      path,
		Body:      body,
		Token:     tok,
		RequestID: RequestIDFromContext(r.Context()),
	})
	if err != nil {
		slog.Warn("engine request failed",
			"error", err,
			"operation", op,
			"tenant_id", sess.Tenant.ID)
		api.WriteRejection(w, api.NewRejection(api.CodeUpstreamUnavailable,
			"AI engine is unavailable, please try again"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.StatusCode)
	w.Write(res.Body)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return
	}
	h.debitCredits(r.Context(), sess, op, cost)
}

// debitCredits records the spend for a delivered operation. The write
// is detached from the request context; the response has already gone
// out, so a client disconnect must not void the bill.
func (h *Handler) debitCredits(ctx context.Context, sess *auth.Session, op string, cost int64) {
	ctx = context.WithoutCancel(ctx)
	_, err := h.cfg.Store.AddUsage(ctx, sess.Tenant.ID, account.ResourceAICredits, cost)
	switch {
	case errors.Is(err, storage.ErrQuotaExceeded):
		// Lost a race with a concurrent spender after the gate let
		// this request through. The response already went out; the
		// tenant hits the cap on its next request instead.
		slog.Warn("credit debit exceeded quota",
			"tenant_id", sess.Tenant.ID,
			"operation", op,
			"cost", cost)
	case err != nil:
		slog.Error("debiting credits",
			"error", err,
			"tenant_id", sess.Tenant.ID,
			"operation", op,
			"cost", cost)
	default:
		observability.CreditsSpentTotal.WithLabelValues(op).Add(float64(cost))
	}
}
