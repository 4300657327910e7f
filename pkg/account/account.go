package account

import (
	"regexp"
	"strings"
	"time"
)

// Account is a user of the platform, always belonging to exactly one
// tenant. The password hash never leaves the server: it is excluded
// from JSON serialization entirely.
type Account struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	Active       bool       `json:"active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
	LoginCount   int64      `json:"login_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Tenant is a customer organization. Active is an operator suspension
// flag and is independent of the subscription status: a tenant whose
// payment is past due stays Active so its requests reach the
// subscription gate and get a billing-specific rejection instead of a
// generic authentication failure.
type Tenant struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Slug         string       `json:"slug"`
	Active       bool         `json:"active"`
	Subscription Subscription `json:"subscription"`
	Limits       Limits       `json:"limits"`
	Usage        Usage        `json:"usage"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL-safe slug from a display name: lowercase,
// runs of non-alphanumerics collapsed to single hyphens, leading and
// trailing hyphens trimmed.
func Slugify(name string) string {
	s := strings.ToLower(name)
	s = slugStrip.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
