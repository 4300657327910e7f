// Command demo walks the AutomateIQ API end to end against a running
// server: registration, login, authenticated calls, the credit-gated
// chat operation, the plan-gated document operation, the usage report,
// and what happens when a session token is tampered with.
//
// Start the stack first:
//
//	go run ./cmd/mock-engine &
//	go run ./cmd/server --dev &
//	go run ./cmd/demo
package main

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

var client = &http.Client{Timeout: 30 * time.Second}

var baseURL = "http://localhost:8080"

func main() {
	if len(os.Args) > 1 {
		baseURL = os.Args[1]
	}

	fmt.Println("=== AutomateIQ API demo ===")
	fmt.Printf("server: %s\n\n", baseURL)

	// Fresh credentials per run so the demo can be repeated.
	suffix := randomSuffix()
	email := fmt.Sprintf("owner-%s@example.com", suffix)
	password := "demo-password-1"

	// 1. Register a new organization.
	var sess session
	status, env := call("POST", "/api/auth/register", "", map[string]any{
		"organization_name": "Roastery " + suffix,
		"email":             email,
		"name":              "Demo Owner",
		"password":          password,
	})
	expectStatus("register", status, http.StatusCreated, env)
	mustDecode(env.Data, &sess)
	fmt.Printf("[1] Registered %q as %s\n", sess.Tenant.Name, email)
	fmt.Printf("    slug=%s plan=%s status=%s\n\n",
		sess.Tenant.Slug, sess.Tenant.Subscription.Plan, sess.Tenant.Subscription.Status)

	// 2. Log in with the same credentials.
	status, env = call("POST", "/api/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	})
	expectStatus("login", status, http.StatusOK, env)
	mustDecode(env.Data, &sess)
	token := sess.Token
	fmt.Printf("[2] Logged in, received session token (%d chars)\n\n", len(token))

	// 3. Fetch the session with the token.
	status, env = call("GET", "/api/auth/me", token, nil)
	expectStatus("me", status, http.StatusOK, env)
	mustDecode(env.Data, &sess)
	fmt.Printf("[3] Authenticated as %s (%s)\n\n", sess.Account.Name, sess.Account.Role)

	// 4. Chat costs 1 credit and is open to every plan.
	status, env = call("POST", "/api/ai/chat/message", token, map[string]any{
		"message": "How were sales last week?",
	})
	if status == http.StatusBadGateway {
		fmt.Println("[4] Chat FAILED: the AI engine is unreachable.")
		fmt.Println("    Start it with: go run ./cmd/mock-engine")
		os.Exit(1)
	}
	expectStatus("chat", status, http.StatusOK, env)
	fmt.Printf("[4] Chat reply: %s\n\n", firstString(env.raw, "reply"))

	// 5. Document processing needs the business plan; a fresh
	// organization is on starter, so the gate rejects it.
	status, env = call("POST", "/api/ai/documents/process", token, map[string]any{
		"document_type": "invoice",
	})
	if status != http.StatusPaymentRequired {
		fatalf("documents: expected %d, got %d: %s", http.StatusPaymentRequired, status, env.Message)
	}
	fmt.Printf("[5] Document processing blocked as expected:\n")
	fmt.Printf("    code=%s required_plan=%s current_plan=%s\n\n",
		env.Code, env.RequiredPlan, env.CurrentPlan)

	// 6. The usage report shows the chat credit spent in step 4.
	status, env = call("GET", "/api/tenant/usage", token, nil)
	expectStatus("usage", status, http.StatusOK, env)
	var usage usageReport
	mustDecode(env.Data, &usage)
	credits := usage.Usage["ai_credits"]
	fmt.Printf("[6] Usage report: plan=%s ai_credits used=%d limit=%d remaining=%d\n\n",
		usage.Plan, credits.Used, credits.Limit, credits.Remaining)

	// 7. Flip one character of the signature and watch verification
	// reject the token.
	tampered := tamper(token)
	status, env = call("GET", "/api/auth/me", tampered, nil)
	if status != http.StatusUnauthorized {
		fatalf("tampered token: expected %d, got %d", http.StatusUnauthorized, status)
	}
	fmt.Printf("[7] Tampered token rejected: code=%s message=%q\n\n", env.Code, env.Message)

	fmt.Println("=== demo complete ===")
}

// --- Response envelope ---

type envelope struct {
	Success      bool            `json:"success"`
	Message      string          `json:"message"`
	Code         string          `json:"code"`
	RequiredPlan string          `json:"required_plan"`
	CurrentPlan  string          `json:"current_plan"`
	Data         json.RawMessage `json:"data"`

	raw []byte
}

type session struct {
	Account struct {
		Name string `json:"name"`
		Role string `json:"role"`
	} `json:"account"`
	Tenant struct {
		Name         string `json:"name"`
		Slug         string `json:"slug"`
		Subscription struct {
			Plan   string `json:"plan"`
			Status string `json:"status"`
		} `json:"subscription"`
	} `json:"tenant"`
	Token string `json:"token"`
}

type usageReport struct {
	Plan   string `json:"plan"`
	Status string `json:"status"`
	Usage  map[string]struct {
		Limit     int64 `json:"limit"`
		Used      int64 `json:"used"`
		Remaining int64 `json:"remaining"`
	} `json:"usage"`
}

// --- HTTP helpers ---

func call(method, path, token string, body any) (int, envelope) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			fatalf("%s %s: encoding body: %v", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		fatalf("%s %s: %v (is the server running?)", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fatalf("%s %s: reading response: %v", method, path, err)
	}

	var env envelope
	// AI responses are relayed engine JSON, not the envelope; keep the
	// raw bytes around for those.
	_ = json.Unmarshal(raw, &env)
	env.raw = raw
	return resp.StatusCode, env
}

func expectStatus(step string, got, want int, env envelope) {
	if got != want {
		fatalf("%s: expected %d, got %d: %s (%s)", step, want, got, env.Message, env.Code)
	}
}

func mustDecode(data json.RawMessage, v any) {
	if err := json.Unmarshal(data, v); err != nil {
		fatalf("decoding response data: %v", err)
	}
}

// firstString digs a top-level string field out of raw JSON.
func firstString(raw []byte, key string) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// tamper flips the last character of the token's signature.
func tamper(token string) string {
	b := []byte(token)
	last := len(b) - 1
	if b[last] == 'A' {
		b[last] = 'B'
	} else {
		b[last] = 'A'
	}
	return string(b)
}

func randomSuffix() string {
	var b [3]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "demo failed: "+format+"\n", args...)
	os.Exit(1)
}
