package account

import (
	"fmt"
	"time"
)

// Plan is a subscription tier. Plans form a fixed total order:
// starter < business < enterprise.
type Plan string

const (
	PlanStarter    Plan = "starter"
	PlanBusiness   Plan = "business"
	PlanEnterprise Plan = "enterprise"
)

var planRank = map[Plan]int{
	PlanStarter:    0,
	PlanBusiness:   1,
	PlanEnterprise: 2,
}

// Valid reports whether the plan is a known tier.
func (p Plan) Valid() bool {
	_, ok := planRank[p]
	return ok
}

// AtLeast reports whether p is at or above min in the tier order.
// Unknown plans are never at least anything.
func (p Plan) AtLeast(min Plan) bool {
	pr, ok := planRank[p]
	if !ok {
		return false
	}
	mr, ok := planRank[min]
	if !ok {
		return false
	}
	return pr >= mr
}

// ParsePlan converts a string into a Plan, rejecting unknown values.
func ParsePlan(s string) (Plan, error) {
	p := Plan(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown plan %q", s)
	}
	return p, nil
}

// SubscriptionStatus is the billing state of a tenant's subscription.
// Only StatusActive passes the subscription gate; every other status
// blocks gated operations regardless of plan tier.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusInactive  SubscriptionStatus = "inactive"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusPastDue   SubscriptionStatus = "past_due"
)

// Valid reports whether the status is a known subscription status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusCancelled, StatusPastDue:
		return true
	}
	return false
}

// ParseSubscriptionStatus converts a string into a SubscriptionStatus,
// rejecting unknown values.
func ParseSubscriptionStatus(s string) (SubscriptionStatus, error) {
	st := SubscriptionStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown subscription status %q", s)
	}
	return st, nil
}

// Subscription is a tenant's billing state: the purchased tier, its
// current status, and the bounds of the current billing period.
type Subscription struct {
	Plan        Plan               `json:"plan"`
	Status      SubscriptionStatus `json:"status"`
	PeriodStart time.Time          `json:"period_start"`
	PeriodEnd   time.Time          `json:"period_end"`
}
