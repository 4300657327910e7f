package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/automateiq/platform/pkg/account"
	"github.com/automateiq/platform/pkg/api"
	"github.com/automateiq/platform/pkg/storage"
)

// setupTestDB connects to the MongoDB named by MONGO_TEST_URI and
// returns a Store bound to a throwaway database. Tests are skipped
// when the variable is unset.
func setupTestDB(t *testing.T) *Store {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set, skipping MongoDB integration tests")
	}

	ctx := context.Background()
	store, err := New(ctx, Config{
		URI:      uri,
		Database: fmt.Sprintf("automateiq_test_%d", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}

	t.Cleanup(func() {
		store.db.Drop(context.Background())
		store.Close()
	})

	return store
}

func makeTestTenant(suffix string) *account.Tenant {
	return &account.Tenant{
		ID:     api.NewTenantID(),
		Name:   "Acme " + suffix,
		Slug:   "acme-" + suffix,
		Active: true,
		Subscription: account.Subscription{
			Plan:        account.PlanBusiness,
			Status:      account.StatusActive,
			PeriodStart: time.Now().UTC().Truncate(time.Second),
			PeriodEnd:   time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Second),
		},
		Limits: account.DefaultLimits(account.PlanBusiness),
	}
}

func makeTestAccount(tenantID, suffix string) *account.Account {
	return &account.Account{
		ID:           api.NewAccountID(),
		TenantID:     tenantID,
		Email:        fmt.Sprintf("user-%s@example.com", suffix),
		Name:         "User " + suffix,
		PasswordHash: "$2a$10$notarealhash",
		Role:         account.RoleStaff,
		Active:       true,
	}
}

func TestMongo_AccountRoundTrip(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	tenant := makeTestTenant("rt")
	if err := store.CreateTenant(ctx, tenant); err != nil {
		t.Fatalf("CreateTenant failed: %v", err)
	}

	acct := makeTestAccount(tenant.ID, "rt")
	acct.Email = "RoundTrip@Example.COM"
	if err := store.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	got, err := store.GetAccount(ctx, acct.ID)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if got.Email != "roundtrip@example.com" {
		t.Errorf("Email = %q, want %q", got.Email, "roundtrip@example.com")
	}
	if got.Role != account.RoleStaff {
		t.Errorf("Role = %q, want %q", got.Role, account.RoleStaff)
	}
	if got.LastLoginAt != nil {
		t.Errorf("LastLoginAt = %v, want nil", got.LastLoginAt)
	}

	if _, err := store.GetAccountByEmail(ctx, "roundtrip@example.com"); err != nil {
		t.Errorf("GetAccountByEmail failed: %v", err)
	}

	gotTenant, _ := store.GetTenant(ctx, tenant.ID)
	if gotTenant.Usage.Users != 1 {
		t.Errorf("Usage.Users = %d, want 1", gotTenant.Usage.Users)
	}

	dup := makeTestAccount(tenant.ID, "rt2")
	dup.Email = "roundtrip@example.com"
	if err := store.CreateAccount(ctx, dup); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
	// The failed create must not leak a user seat.
	gotTenant, _ = store.GetTenant(ctx, tenant.ID)
	if gotTenant.Usage.Users != 1 {
		t.Errorf("Usage.Users = %d, want 1 after failed create", gotTenant.Usage.Users)
	}
}

func TestMongo_SeatAccounting(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	tenant := makeTestTenant("seats")
	tenant.Limits = account.Limits{Users: 2, AICredits: 100, StorageMB: 100, Documents: 100}
	store.CreateTenant(ctx, tenant)

	first := makeTestAccount(tenant.ID, "a")
	second := makeTestAccount(tenant.ID, "b")
	if err := store.CreateAccount(ctx, first); err != nil {
		t.Fatalf("creating first account: %v", err)
	}
	if err := store.CreateAccount(ctx, second); err != nil {
		t.Fatalf("creating second account: %v", err)
	}

	third := makeTestAccount(tenant.ID, "c")
	if err := store.CreateAccount(ctx, third); !errors.Is(err, storage.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded for third account, got %v", err)
	}

	second.Active = false
	if err := store.UpdateAccount(ctx, second); err != nil {
		t.Fatalf("deactivating account: %v", err)
	}
	if err := store.CreateAccount(ctx, third); err != nil {
		t.Fatalf("creating third account after seat release: %v", err)
	}

	second.Active = true
	if err := store.UpdateAccount(ctx, second); !errors.Is(err, storage.ErrQuotaExceeded) {
		t.Errorf("expected ErrQuotaExceeded on reactivation, got %v", err)
	}
}

func TestMongo_AddUsage(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	tenant := makeTestTenant("usage")
	store.CreateTenant(ctx, tenant)

	if _, err := store.AddUsage(ctx, tenant.ID, account.ResourceAICredits, 995); err != nil {
		t.Fatalf("seeding usage: %v", err)
	}

	// 995 used of 1000: a spend of 10 must be rejected whole.
	if _, err := store.AddUsage(ctx, tenant.ID, account.ResourceAICredits, 10); !errors.Is(err, storage.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	used, err := store.AddUsage(ctx, tenant.ID, account.ResourceAICredits, 0)
	if err != nil {
		t.Fatalf("reading usage: %v", err)
	}
	if used != 995 {
		t.Errorf("usage after rejection = %d, want 995", used)
	}

	used, err = store.AddUsage(ctx, tenant.ID, account.ResourceAICredits, 5)
	if err != nil {
		t.Fatalf("spending to limit: %v", err)
	}
	if used != 1000 {
		t.Errorf("usage = %d, want 1000", used)
	}

	// Refunds floor at zero.
	used, err = store.AddUsage(ctx, tenant.ID, account.ResourceAICredits, -2000)
	if err != nil {
		t.Fatalf("refunding: %v", err)
	}
	if used != 0 {
		t.Errorf("usage after refund = %d, want 0", used)
	}

	// Unlimited resources meter without a cap.
	limits := account.DefaultLimits(account.PlanEnterprise)
	if err := store.UpdateSubscription(ctx, tenant.ID, tenant.Subscription, &limits); err != nil {
		t.Fatalf("switching limits: %v", err)
	}
	used, err = store.AddUsage(ctx, tenant.ID, account.ResourceStorageMB, 999999)
	if err != nil {
		t.Fatalf("metering unlimited resource: %v", err)
	}
	if used != 999999 {
		t.Errorf("unlimited usage = %d, want 999999", used)
	}

	if _, err := store.AddUsage(ctx, "tnt_doesnotexist", account.ResourceAICredits, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMongo_SubscriptionUpdate(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	tenant := makeTestTenant("sub")
	store.CreateTenant(ctx, tenant)

	limits := account.DefaultLimits(account.PlanEnterprise)
	sub := account.Subscription{
		Plan:        account.PlanEnterprise,
		Status:      account.StatusActive,
		PeriodStart: time.Now().UTC().Truncate(time.Second),
		PeriodEnd:   time.Now().UTC().Add(365 * 24 * time.Hour).Truncate(time.Second),
	}
	if err := store.UpdateSubscription(ctx, tenant.ID, sub, &limits); err != nil {
		t.Fatalf("UpdateSubscription failed: %v", err)
	}

	got, _ := store.GetTenant(ctx, tenant.ID)
	if got.Subscription.Plan != account.PlanEnterprise {
		t.Errorf("Plan = %q, want %q", got.Subscription.Plan, account.PlanEnterprise)
	}
	if !got.Limits.Users.IsUnlimited() {
		t.Errorf("Limits.Users = %d, want unlimited", got.Limits.Users)
	}

	sub.Status = account.StatusPastDue
	if err := store.UpdateSubscription(ctx, tenant.ID, sub, nil); err != nil {
		t.Fatalf("UpdateSubscription (status only) failed: %v", err)
	}
	got, _ = store.GetTenant(ctx, tenant.ID)
	if got.Subscription.Status != account.StatusPastDue {
		t.Errorf("Status = %q, want %q", got.Subscription.Status, account.StatusPastDue)
	}
	if !got.Limits.Users.IsUnlimited() {
		t.Errorf("Limits.Users = %d, want unlimited after status-only update", got.Limits.Users)
	}
}

func TestMongo_CreateTenantWithAdmin(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	tenant := makeTestTenant("reg")
	admin := makeTestAccount("", "reg")
	admin.Role = account.RoleAdmin

	if err := store.CreateTenantWithAdmin(ctx, tenant, admin); err != nil {
		t.Fatalf("CreateTenantWithAdmin failed: %v", err)
	}

	gotTenant, err := store.GetTenant(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("GetTenant failed: %v", err)
	}
	if gotTenant.Usage.Users != 1 {
		t.Errorf("Usage.Users = %d, want 1", gotTenant.Usage.Users)
	}

	gotAdmin, err := store.GetAccount(ctx, admin.ID)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if gotAdmin.TenantID != tenant.ID {
		t.Errorf("admin TenantID = %q, want %q", gotAdmin.TenantID, tenant.ID)
	}

	// A duplicate admin email removes the half-created tenant again.
	second := makeTestTenant("reg2")
	dupAdmin := makeTestAccount("", "reg")
	if err := store.CreateTenantWithAdmin(ctx, second, dupAdmin); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := store.GetTenantBySlug(ctx, second.Slug); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("orphan tenant left behind after failed registration: %v", err)
	}
}

func TestMongo_ListAccountsPagination(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	tenant := makeTestTenant("list")
	store.CreateTenant(ctx, tenant)

	for i := 0; i < 5; i++ {
		acct := makeTestAccount(tenant.ID, fmt.Sprintf("list-%d", i))
		if err := store.CreateAccount(ctx, acct); err != nil {
			t.Fatalf("creating account %d: %v", i, err)
		}
	}

	page, total, err := store.ListAccounts(ctx, tenant.ID, api.PageOptions{Page: 1, PerPage: 2})
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page) != 2 {
		t.Errorf("len(page) = %d, want 2", len(page))
	}

	last, _, err := store.ListAccounts(ctx, tenant.ID, api.PageOptions{Page: 3, PerPage: 2})
	if err != nil {
		t.Fatalf("ListAccounts page 3 failed: %v", err)
	}
	if len(last) != 1 {
		t.Errorf("len(last page) = %d, want 1", len(last))
	}
}
