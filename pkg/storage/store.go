package storage

import (
	"context"
	"time"

	"github.com/automateiq/platform/pkg/account"
	"github.com/automateiq/platform/pkg/api"
)

// Store is the full persistence interface. Backends implement it;
// consumers that need less (the authenticator needs only lookups and
// the activity touch) declare their own narrow interfaces and rely on
// structural typing.
type Store interface {
	// CreateAccount inserts a new account and takes one user seat on
	// its tenant. It fails with ErrConflict when the email is taken
	// and ErrQuotaExceeded when the tenant's users limit is full.
	CreateAccount(ctx context.Context, acct *account.Account) error

	// GetAccount fetches an account by ID.
	GetAccount(ctx context.Context, id string) (*account.Account, error)

	// GetAccountByEmail fetches an account by its normalized email.
	// This is the only credential-bearing lookup; nothing but the
	// login flow should call it.
	GetAccountByEmail(ctx context.Context, email string) (*account.Account, error)

	// UpdateAccount persists changes to name, role, active flag, and
	// password hash. Flipping Active releases or retakes the tenant's
	// user seat; reactivation fails with ErrQuotaExceeded when the
	// seats are full.
	UpdateAccount(ctx context.Context, acct *account.Account) error

	// ListAccounts returns one page of a tenant's accounts ordered by
	// creation time, plus the total count.
	ListAccounts(ctx context.Context, tenantID string, opts api.PageOptions) ([]*account.Account, int, error)

	// TouchAccountActivity updates last_active_at and nothing else.
	TouchAccountActivity(ctx context.Context, id string, at time.Time) error

	// RecordLogin sets last_login_at and last_active_at and
	// increments login_count.
	RecordLogin(ctx context.Context, id string, at time.Time) error

	// CreateTenant inserts a new tenant. Fails with ErrConflict when
	// the slug is taken.
	CreateTenant(ctx context.Context, t *account.Tenant) error

	// GetTenant fetches a tenant by ID.
	GetTenant(ctx context.Context, id string) (*account.Tenant, error)

	// GetTenantBySlug fetches a tenant by its slug.
	GetTenantBySlug(ctx context.Context, slug string) (*account.Tenant, error)

	// UpdateTenant persists changes to name, slug, active flag, and
	// limits.
	UpdateTenant(ctx context.Context, t *account.Tenant) error

	// UpdateSubscription replaces a tenant's subscription. When
	// limits is non-nil it replaces the limits too; the billing
	// webhook passes the new plan's defaults on plan changes.
	UpdateSubscription(ctx context.Context, tenantID string, sub account.Subscription, limits *account.Limits) error

	// AddUsage atomically adds n to a tenant's usage counter for the
	// given resource, failing with ErrQuotaExceeded when the result
	// would exceed the limit (unlimited limits always allow). A
	// negative n refunds usage; counters never go below zero. Returns
	// the counter's new value.
	AddUsage(ctx context.Context, tenantID string, res account.Resource, n int64) (int64, error)

	// CreateTenantWithAdmin atomically creates a tenant together with
	// its first admin account, seeding the users counter to one.
	// Registration uses this so a failed account insert never leaves
	// an orphaned tenant.
	CreateTenantWithAdmin(ctx context.Context, t *account.Tenant, admin *account.Account) error

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the backend's resources.
	Close()
}
