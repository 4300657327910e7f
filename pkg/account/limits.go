package account

import (
	"encoding/json"
	"fmt"
)

// Limit bounds a countable tenant resource. The sentinel Unlimited
// (any negative value) means no bound. Limits serialize as plain
// numbers except Unlimited, which round-trips as the string
// "unlimited".
type Limit int64

// Unlimited is the no-bound sentinel.
const Unlimited Limit = -1

// IsUnlimited reports whether the limit imposes no bound.
func (l Limit) IsUnlimited() bool {
	return l < 0
}

// Allows reports whether consuming n more units on top of used stays
// within the limit. An unlimited limit allows everything.
func (l Limit) Allows(used, n int64) bool {
	if l.IsUnlimited() {
		return true
	}
	return used+n <= int64(l)
}

// Remaining returns how many units are left, never negative. For an
// unlimited limit it returns the Unlimited sentinel value.
func (l Limit) Remaining(used int64) int64 {
	if l.IsUnlimited() {
		return int64(Unlimited)
	}
	if used >= int64(l) {
		return 0
	}
	return int64(l) - used
}

// MarshalJSON serializes Unlimited as the string "unlimited" and
// everything else as a number.
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.IsUnlimited() {
		return []byte(`"unlimited"`), nil
	}
	return json.Marshal(int64(l))
}

// UnmarshalJSON accepts a number, the string "unlimited", or -1.
func (l *Limit) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*l = Limit(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "unlimited" {
			*l = Unlimited
			return nil
		}
		return fmt.Errorf("invalid limit %q", s)
	}
	return fmt.Errorf("invalid limit %s", data)
}

// Resource names a countable tenant resource.
type Resource string

const (
	ResourceUsers     Resource = "users"
	ResourceAICredits Resource = "ai_credits"
	ResourceStorageMB Resource = "storage_mb"
	ResourceDocuments Resource = "documents"
)

// Limits bounds the countable resources of a tenant.
type Limits struct {
	Users     Limit `json:"users"`
	AICredits Limit `json:"ai_credits"`
	StorageMB Limit `json:"storage_mb"`
	Documents Limit `json:"documents"`
}

// Get returns the limit for a resource. Unknown resources are
// unlimited: a limit nobody defined cannot be enforced.
func (l Limits) Get(r Resource) Limit {
	switch r {
	case ResourceUsers:
		return l.Users
	case ResourceAICredits:
		return l.AICredits
	case ResourceStorageMB:
		return l.StorageMB
	case ResourceDocuments:
		return l.Documents
	}
	return Unlimited
}

// Usage tracks a tenant's consumption against Limits. Values only
// change through the store's conditional updates; they never go
// negative.
type Usage struct {
	Users     int64 `json:"users"`
	AICredits int64 `json:"ai_credits"`
	StorageMB int64 `json:"storage_mb"`
	Documents int64 `json:"documents"`
}

// Get returns the usage counter for a resource.
func (u Usage) Get(r Resource) int64 {
	switch r {
	case ResourceUsers:
		return u.Users
	case ResourceAICredits:
		return u.AICredits
	case ResourceStorageMB:
		return u.StorageMB
	case ResourceDocuments:
		return u.Documents
	}
	return 0
}

// Set replaces the usage counter for a resource.
func (u *Usage) Set(r Resource, v int64) {
	switch r {
	case ResourceUsers:
		u.Users = v
	case ResourceAICredits:
		u.AICredits = v
	case ResourceStorageMB:
		u.StorageMB = v
	case ResourceDocuments:
		u.Documents = v
	}
}

// DefaultLimits returns the limits a plan grants at signup or on plan
// change. Tenants can carry negotiated overrides on top of these; the
// defaults are only the starting point.
func DefaultLimits(p Plan) Limits {
	switch p {
	case PlanBusiness:
		return Limits{Users: 25, AICredits: 1000, StorageMB: 10240, Documents: 5000}
	case PlanEnterprise:
		return Limits{Users: Unlimited, AICredits: 10000, StorageMB: Unlimited, Documents: Unlimited}
	default:
		return Limits{Users: 5, AICredits: 100, StorageMB: 1024, Documents: 500}
	}
}
