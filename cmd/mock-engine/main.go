// Command mock-engine runs a deterministic stand-in for the AutomateIQ
// AI engine. Every operation answers with canned JSON that echoes the
// request, so the API server is fully runnable without the real engine.
//
// Flags:
//
//	--port       Listen port (default: 9090)
//	--latency    Artificial delay before each response (default: 0)
//	--fail-rate  Fraction of requests answered with 500, for exercising
//	             the API server's retry and 502 paths (default: 0)
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

func main() {
	var (
		port     = flag.String("port", "9090", "listen port")
		latency  = flag.Duration("latency", 0, "artificial delay before each response")
		failRate = flag.Float64("fail-rate", 0, "fraction of requests answered with 500 (0..1)")
	)
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/message", handleChatMessage)
	mux.HandleFunc("POST /v1/content/generate", handleContentGenerate)
	mux.HandleFunc("POST /v1/documents/process", handleDocumentProcess)
	mux.HandleFunc("POST /v1/inventory/predict", handleInventoryPredict)
	mux.HandleFunc("POST /v1/inventory/optimize", handleInventoryOptimize)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:    ":" + *port,
		Handler: injectFaults(mux, *latency, *failRate),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock engine starting", "port", *port, "latency", *latency, "fail_rate", *failRate)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock engine failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock engine shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

// injectFaults delays every request by the configured latency, then
// rolls the failure dice. Health checks are exempt so orchestrators
// don't restart a mock that is merely misbehaving on purpose.
func injectFaults(next http.Handler, latency time.Duration, failRate float64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		if latency > 0 {
			time.Sleep(latency)
		}
		if failRate > 0 && rand.Float64() < failRate {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error": "injected failure",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Request types ---

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

type contentRequest struct {
	Prompt      string `json:"prompt"`
	ContentType string `json:"content_type"`
}

type documentRequest struct {
	DocumentType string `json:"document_type"`
	Content      string `json:"content"`
}

type inventoryRequest struct {
	SKUs        []string `json:"skus"`
	HorizonDays int      `json:"horizon_days"`
}

// --- Handlers ---

func handleChatMessage(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}

	reply := "Hello! How can I help your business today?"
	if req.Message != "" {
		reply = fmt.Sprintf("You asked about %q. Here is what I found in your workspace.", trimForEcho(req.Message))
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = "conv_mock_1"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"operation":       "chat_message",
		"request_id":      r.Header.Get("X-Request-ID"),
		"conversation_id": conversationID,
		"reply":           reply,
		"tokens_used":     len(strings.Fields(req.Message)) + len(strings.Fields(reply)),
	})
}

func handleContentGenerate(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "article"
	}

	content := fmt.Sprintf(
		"Generated %s for %q. This placeholder copy stands in for the real engine's output and is long enough to look plausible in a demo.",
		contentType, trimForEcho(req.Prompt))

	writeJSON(w, http.StatusOK, map[string]any{
		"operation":    "content_generate",
		"request_id":   r.Header.Get("X-Request-ID"),
		"content_type": contentType,
		"content":      content,
		"word_count":   len(strings.Fields(content)),
	})
}

func handleDocumentProcess(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	docType := req.DocumentType
	if docType == "" {
		docType = "general"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"operation":     "document_process",
		"request_id":    r.Header.Get("X-Request-ID"),
		"document_type": docType,
		"fields":        extractedFields(docType),
		"confidence":    0.97,
	})
}

func handleInventoryPredict(w http.ResponseWriter, r *http.Request) {
	var req inventoryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	horizon := req.HorizonDays
	if horizon <= 0 {
		horizon = 30
	}

	skus := req.SKUs
	if len(skus) == 0 {
		skus = []string{"SKU-1001", "SKU-1002"}
	}

	predictions := make([]map[string]any, 0, len(skus))
	for i, sku := range skus {
		predictions = append(predictions, map[string]any{
			"sku":             sku,
			"expected_demand": 40 + 17*i,
			"confidence":      0.9 - 0.05*float64(i),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"operation":    "inventory_predict",
		"request_id":   r.Header.Get("X-Request-ID"),
		"horizon_days": horizon,
		"predictions":  predictions,
	})
}

func handleInventoryOptimize(w http.ResponseWriter, r *http.Request) {
	var req inventoryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	skus := req.SKUs
	if len(skus) == 0 {
		skus = []string{"SKU-1001"}
	}

	recommendations := make([]map[string]any, 0, len(skus))
	for i, sku := range skus {
		action := "reorder"
		if i%2 == 1 {
			action = "reduce_stock"
		}
		recommendations = append(recommendations, map[string]any{
			"sku":      sku,
			"action":   action,
			"quantity": 25 + 10*i,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"operation":         "inventory_optimize",
		"request_id":        r.Header.Get("X-Request-ID"),
		"recommendations":   recommendations,
		"projected_savings": 1250.50,
	})
}

// --- Canned data ---

func extractedFields(docType string) map[string]any {
	switch docType {
	case "invoice":
		return map[string]any{
			"vendor":   "Acme Supplies Ltd",
			"number":   "INV-2047",
			"total":    "1834.20",
			"currency": "USD",
			"due_date": "2026-09-15",
		}
	case "receipt":
		return map[string]any{
			"merchant": "Corner Hardware",
			"total":    "86.13",
			"currency": "USD",
			"date":     "2026-08-02",
		}
	case "contract":
		return map[string]any{
			"parties":    []string{"Acme Supplies Ltd", "Demo Workshop"},
			"term":       "12 months",
			"start_date": "2026-09-01",
		}
	default:
		return map[string]any{
			"summary": "Two page document, no tabular data detected.",
		}
	}
}

// --- Helpers ---

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": "invalid request body",
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// trimForEcho keeps echoed user text short enough for log-friendly
// responses.
func trimForEcho(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}
