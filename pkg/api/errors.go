package api

import "net/http"

// Code identifies a rejection category. Codes are stable API surface:
// clients branch on them, so they never change meaning.
type Code string

const (
	// Authentication failures, all HTTP 401.
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeTokenExpired    Code = "TOKEN_EXPIRED"
	CodeTokenInvalid    Code = "TOKEN_INVALID"

	// Authorization and gating failures.
	CodeForbidden            Code = "FORBIDDEN"
	CodeSubscriptionRequired Code = "SUBSCRIPTION_REQUIRED"
	CodePlanUpgradeRequired  Code = "PLAN_UPGRADE_REQUIRED"
	CodeQuotaExhausted       Code = "QUOTA_EXHAUSTED"

	// Transport-generic failures.
	CodeBadRequest          Code = "BAD_REQUEST"
	CodeNotFound            Code = "NOT_FOUND"
	CodeMethodNotAllowed    Code = "METHOD_NOT_ALLOWED"
	CodeConflict            Code = "CONFLICT"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeUpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	CodeInternal            Code = "INTERNAL"
)

// HTTPStatus returns the HTTP status code for a rejection code.
// The mapping is fixed: each code has exactly one status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthenticated, CodeTokenExpired, CodeTokenInvalid:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeSubscriptionRequired, CodePlanUpgradeRequired:
		return http.StatusPaymentRequired
	case CodeQuotaExhausted, CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case CodeConflict:
		return http.StatusConflict
	case CodeUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Rejection is the envelope for every non-2xx response. Success is
// always false; it is serialized explicitly so clients can branch on
// the field without consulting the HTTP status.
type Rejection struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    Code   `json:"code,omitempty"`

	// Plan gate extras.
	RequiredPlan string `json:"required_plan,omitempty"`
	CurrentPlan  string `json:"current_plan,omitempty"`

	// Quota gate extras. Pointers so that zero is representable:
	// "available": 0 is meaningful and must not be omitted.
	Required  *int64 `json:"required,omitempty"`
	Available *int64 `json:"available,omitempty"`
}

// Error implements the error interface so rejections can travel
// through error returns and be unwrapped at the transport edge.
func (r *Rejection) Error() string {
	return string(r.Code) + ": " + r.Message
}

// NewRejection creates a rejection with the given code and message.
func NewRejection(code Code, message string) *Rejection {
	return &Rejection{Message: message, Code: code}
}

// NewPlanUpgradeRequired creates the rejection returned when the
// tenant's subscription is active but its plan tier is below the
// tier an operation requires.
func NewPlanUpgradeRequired(required, current string) *Rejection {
	return &Rejection{
		Message:      "this feature requires the " + required + " plan or higher",
		Code:         CodePlanUpgradeRequired,
		RequiredPlan: required,
		CurrentPlan:  current,
	}
}

// NewSubscriptionRequired creates the rejection returned when the
// tenant's subscription status is anything other than active.
func NewSubscriptionRequired(status string) *Rejection {
	return &Rejection{
		Message: "subscription is " + status + ", please update billing to continue",
		Code:    CodeSubscriptionRequired,
	}
}

// NewQuotaExhausted creates the rejection returned when an operation's
// credit cost exceeds the tenant's remaining allowance.
func NewQuotaExhausted(required, available int64) *Rejection {
	return &Rejection{
		Message:   "insufficient AI credits for this operation",
		Code:      CodeQuotaExhausted,
		Required:  &required,
		Available: &available,
	}
}
