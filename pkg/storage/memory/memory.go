// Package memory provides an in-memory implementation of
// storage.Store for tests and development mode. All data is lost when
// the process exits.
//
// Unlike a cache, this store is authoritative while it runs: entities
// are deep-copied on the way in and out so callers can never mutate
// stored state through a returned pointer, and usage counters honor
// the same conditional semantics as the durable backends.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/automateiq/platform/pkg/account"
	"github.com/automateiq/platform/pkg/api"
	"github.com/automateiq/platform/pkg/storage"
)

// Store is an in-memory storage.Store.
type Store struct {
	mu             sync.RWMutex
	accounts       map[string]*account.Account
	accountByEmail map[string]string
	tenants        map[string]*account.Tenant
	tenantBySlug   map[string]string
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		accounts:       make(map[string]*account.Account),
		accountByEmail: make(map[string]string),
		tenants:        make(map[string]*account.Tenant),
		tenantBySlug:   make(map[string]string),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func copyAccount(a *account.Account) *account.Account {
	c := *a
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		c.LastLoginAt = &t
	}
	if a.LastActiveAt != nil {
		t := *a.LastActiveAt
		c.LastActiveAt = &t
	}
	return &c
}

func copyTenant(t *account.Tenant) *account.Tenant {
	c := *t
	return &c
}

// CreateAccount inserts an account and takes a user seat on its tenant.
func (s *Store) CreateAccount(ctx context.Context, acct *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := normalizeEmail(acct.Email)
	if _, exists := s.accountByEmail[email]; exists {
		return storage.ErrConflict
	}
	t, ok := s.tenants[acct.TenantID]
	if !ok {
		return storage.ErrNotFound
	}
	if !t.Limits.Users.Allows(t.Usage.Users, 1) {
		return storage.ErrQuotaExceeded
	}

	now := time.Now().UTC()
	c := copyAccount(acct)
	c.Email = email
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	s.accounts[c.ID] = c
	s.accountByEmail[email] = c.ID
	t.Usage.Users++
	t.UpdatedAt = now
	return nil
}

// GetAccount fetches an account by ID.
func (s *Store) GetAccount(ctx context.Context, id string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyAccount(a), nil
}

// GetAccountByEmail fetches an account by email.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.accountByEmail[normalizeEmail(email)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyAccount(s.accounts[id]), nil
}

// UpdateAccount persists account changes and keeps seat accounting in
// step when the active flag flips.
func (s *Store) UpdateAccount(ctx context.Context, acct *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.accounts[acct.ID]
	if !ok {
		return storage.ErrNotFound
	}
	t := s.tenants[old.TenantID]

	// Reactivation retakes a seat and can fail on a full tenant.
	if !old.Active && acct.Active {
		if t != nil && !t.Limits.Users.Allows(t.Usage.Users, 1) {
			return storage.ErrQuotaExceeded
		}
	}

	email := normalizeEmail(acct.Email)
	if email != old.Email {
		if _, exists := s.accountByEmail[email]; exists {
			return storage.ErrConflict
		}
		delete(s.accountByEmail, old.Email)
		s.accountByEmail[email] = acct.ID
	}

	now := time.Now().UTC()
	if t != nil {
		switch {
		case old.Active && !acct.Active:
			if t.Usage.Users > 0 {
				t.Usage.Users--
			}
			t.UpdatedAt = now
		case !old.Active && acct.Active:
			t.Usage.Users++
			t.UpdatedAt = now
		}
	}

	c := copyAccount(acct)
	c.Email = email
	c.TenantID = old.TenantID
	c.CreatedAt = old.CreatedAt
	c.UpdatedAt = now
	s.accounts[c.ID] = c
	return nil
}

// ListAccounts returns one page of a tenant's accounts ordered by
// creation time.
func (s *Store) ListAccounts(ctx context.Context, tenantID string, opts api.PageOptions) ([]*account.Account, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*account.Account
	for _, a := range s.accounts {
		if a.TenantID == tenantID {
			all = append(all, a)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	total := len(all)
	opts = opts.Normalize()
	start := opts.Offset()
	if start > total {
		start = total
	}
	end := start + opts.PerPage
	if end > total {
		end = total
	}

	page := make([]*account.Account, 0, end-start)
	for _, a := range all[start:end] {
		page = append(page, copyAccount(a))
	}
	return page, total, nil
}

// TouchAccountActivity updates last_active_at only.
func (s *Store) TouchAccountActivity(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return storage.ErrNotFound
	}
	at = at.UTC()
	a.LastActiveAt = &at
	return nil
}

// RecordLogin stamps login time and activity and increments the login
// counter.
func (s *Store) RecordLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return storage.ErrNotFound
	}
	at = at.UTC()
	a.LastLoginAt = &at
	a.LastActiveAt = &at
	a.LoginCount++
	return nil
}

// CreateTenant inserts a tenant.
func (s *Store) CreateTenant(ctx context.Context, t *account.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createTenantLocked(t)
}

func (s *Store) createTenantLocked(t *account.Tenant) error {
	if _, exists := s.tenantBySlug[t.Slug]; exists {
		return storage.ErrConflict
	}
	now := time.Now().UTC()
	c := copyTenant(t)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.tenants[c.ID] = c
	s.tenantBySlug[c.Slug] = c.ID
	return nil
}

// GetTenant fetches a tenant by ID.
func (s *Store) GetTenant(ctx context.Context, id string) (*account.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyTenant(t), nil
}

// GetTenantBySlug fetches a tenant by slug.
func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (*account.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tenantBySlug[slug]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyTenant(s.tenants[id]), nil
}

// UpdateTenant persists tenant changes. Usage and subscription are
// not touched; they change through AddUsage and UpdateSubscription.
func (s *Store) UpdateTenant(ctx context.Context, t *account.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.tenants[t.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if t.Slug != old.Slug {
		if _, exists := s.tenantBySlug[t.Slug]; exists {
			return storage.ErrConflict
		}
		delete(s.tenantBySlug, old.Slug)
		s.tenantBySlug[t.Slug] = t.ID
	}

	c := copyTenant(t)
	c.Subscription = old.Subscription
	c.Usage = old.Usage
	c.CreatedAt = old.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	s.tenants[c.ID] = c
	return nil
}

// UpdateSubscription replaces a tenant's subscription and optionally
// its limits.
func (s *Store) UpdateSubscription(ctx context.Context, tenantID string, sub account.Subscription, limits *account.Limits) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return storage.ErrNotFound
	}
	t.Subscription = sub
	if limits != nil {
		t.Limits = *limits
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// AddUsage adds n to a usage counter under the resource's limit.
func (s *Store) AddUsage(ctx context.Context, tenantID string, res account.Resource, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return 0, storage.ErrNotFound
	}

	used := t.Usage.Get(res)
	if n > 0 && !t.Limits.Get(res).Allows(used, n) {
		return 0, storage.ErrQuotaExceeded
	}
	next := used + n
	if next < 0 {
		next = 0
	}
	t.Usage.Set(res, next)
	t.UpdatedAt = time.Now().UTC()
	return next, nil
}

// CreateTenantWithAdmin creates a tenant and its first admin account
// in one step.
func (s *Store) CreateTenantWithAdmin(ctx context.Context, t *account.Tenant, admin *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := normalizeEmail(admin.Email)
	if _, exists := s.accountByEmail[email]; exists {
		return storage.ErrConflict
	}
	if err := s.createTenantLocked(t); err != nil {
		return err
	}

	now := time.Now().UTC()
	c := copyAccount(admin)
	c.Email = email
	c.TenantID = t.ID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.accounts[c.ID] = c
	s.accountByEmail[email] = c.ID

	s.tenants[t.ID].Usage.Users = 1
	return nil
}

// HealthCheck always succeeds.
func (s *Store) HealthCheck(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() {}
