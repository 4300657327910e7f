// Package postgres provides a PostgreSQL implementation of storage.Store.
// It uses pgx/v5 for connection pooling and keeps usage counters and
// limits in plain BIGINT columns, so every quota check is a single
// conditional UPDATE.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/automateiq/platform/pkg/account"
	"github.com/automateiq/platform/pkg/api"
	"github.com/automateiq/platform/pkg/storage"
)

// Store is a PostgreSQL-backed storage.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// execer is the subset of pgxpool.Pool and pgx.Tx used by the shared
// insert helpers.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const accountColumns = `id, tenant_id, email, name, password_hash, role, active,
	last_login_at, last_active_at, login_count, created_at, updated_at`

const tenantColumns = `id, name, slug, active, plan, status, period_start, period_end,
	limit_users, limit_ai_credits, limit_storage_mb, limit_documents,
	used_users, used_ai_credits, used_storage_mb, used_documents,
	created_at, updated_at`

// CreateAccount inserts an account and takes one user seat on its
// tenant in the same transaction.
func (s *Store) CreateAccount(ctx context.Context, acct *account.Account) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := takeUserSeat(ctx, tx, acct.TenantID); err != nil {
		return err
	}
	if err := insertAccount(ctx, tx, acct); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetAccount fetches an account by ID.
func (s *Store) GetAccount(ctx context.Context, id string) (*account.Account, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", id)
	return scanAccount(row)
}

// GetAccountByEmail fetches an account by its normalized email.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*account.Account, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE email = $1", normalizeEmail(email))
	return scanAccount(row)
}

// UpdateAccount persists account changes. Flipping the active flag
// releases or retakes the tenant's user seat in the same transaction;
// the tenant assignment itself never changes.
func (s *Store) UpdateAccount(ctx context.Context, acct *account.Account) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var wasActive bool
	var tenantID string
	err = tx.QueryRow(ctx, "SELECT active, tenant_id FROM accounts WHERE id = $1 FOR UPDATE", acct.ID).
		Scan(&wasActive, &tenantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("locking account: %w", err)
	}

	switch {
	case acct.Active && !wasActive:
		if err := takeUserSeat(ctx, tx, tenantID); err != nil {
			return err
		}
	case !acct.Active && wasActive:
		if _, err := tx.Exec(ctx, `
			UPDATE tenants
			SET used_users = GREATEST(used_users - 1, 0), updated_at = now()
			WHERE id = $1
		`, tenantID); err != nil {
			return fmt.Errorf("releasing user seat: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE accounts
		SET email = $2, name = $3, password_hash = $4, role = $5, active = $6, updated_at = $7
		WHERE id = $1
	`, acct.ID, normalizeEmail(acct.Email), acct.Name, acct.PasswordHash,
		string(acct.Role), acct.Active, time.Now().UTC())
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("updating account: %w", err)
	}

	return tx.Commit(ctx)
}

// ListAccounts returns one page of a tenant's accounts ordered by
// creation time, plus the total count.
func (s *Store) ListAccounts(ctx context.Context, tenantID string, opts api.PageOptions) ([]*account.Account, int, error) {
	opts = opts.Normalize()

	var total int
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM accounts WHERE tenant_id = $1", tenantID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting accounts: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE tenant_id = $1 ORDER BY created_at, id LIMIT $2 OFFSET $3",
		tenantID, opts.PerPage, opts.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]*account.Account, 0, opts.PerPage)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating accounts: %w", err)
	}

	return accounts, total, nil
}

// TouchAccountActivity updates last_active_at and nothing else.
func (s *Store) TouchAccountActivity(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE accounts SET last_active_at = $2 WHERE id = $1", id, at.UTC())
	if err != nil {
		return fmt.Errorf("touching account activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RecordLogin stamps login time and activity and increments the login
// counter.
func (s *Store) RecordLogin(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET last_login_at = $2, last_active_at = $2, login_count = login_count + 1
		WHERE id = $1
	`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("recording login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CreateTenant inserts a tenant.
func (s *Store) CreateTenant(ctx context.Context, t *account.Tenant) error {
	return insertTenant(ctx, s.pool, t)
}

// GetTenant fetches a tenant by ID.
func (s *Store) GetTenant(ctx context.Context, id string) (*account.Tenant, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+tenantColumns+" FROM tenants WHERE id = $1", id)
	return scanTenant(row)
}

// GetTenantBySlug fetches a tenant by slug.
func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (*account.Tenant, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+tenantColumns+" FROM tenants WHERE slug = $1", slug)
	return scanTenant(row)
}

// UpdateTenant persists tenant changes. Usage and subscription are
// not touched; they change through AddUsage and UpdateSubscription.
func (s *Store) UpdateTenant(ctx context.Context, t *account.Tenant) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tenants
		SET name = $2, slug = $3, active = $4,
		    limit_users = $5, limit_ai_credits = $6, limit_storage_mb = $7, limit_documents = $8,
		    updated_at = $9
		WHERE id = $1
	`, t.ID, t.Name, t.Slug, t.Active,
		int64(t.Limits.Users), int64(t.Limits.AICredits), int64(t.Limits.StorageMB), int64(t.Limits.Documents),
		time.Now().UTC())
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("updating tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateSubscription replaces a tenant's subscription and, when
// limits is non-nil, its limits.
func (s *Store) UpdateSubscription(ctx context.Context, tenantID string, sub account.Subscription, limits *account.Limits) error {
	var tag pgconn.CommandTag
	var err error

	if limits != nil {
		tag, err = s.pool.Exec(ctx, `
			UPDATE tenants
			SET plan = $2, status = $3, period_start = $4, period_end = $5,
			    limit_users = $6, limit_ai_credits = $7, limit_storage_mb = $8, limit_documents = $9,
			    updated_at = $10
			WHERE id = $1
		`, tenantID, string(sub.Plan), string(sub.Status),
			nullTime(sub.PeriodStart), nullTime(sub.PeriodEnd),
			int64(limits.Users), int64(limits.AICredits), int64(limits.StorageMB), int64(limits.Documents),
			time.Now().UTC())
	} else {
		tag, err = s.pool.Exec(ctx, `
			UPDATE tenants
			SET plan = $2, status = $3, period_start = $4, period_end = $5, updated_at = $6
			WHERE id = $1
		`, tenantID, string(sub.Plan), string(sub.Status),
			nullTime(sub.PeriodStart), nullTime(sub.PeriodEnd),
			time.Now().UTC())
	}
	if err != nil {
		return fmt.Errorf("updating subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// usageColumns maps each resource to its counter and limit columns.
// Column names come from this table only, never from input.
var usageColumns = map[account.Resource]struct {
	used  string
	limit string
}{
	account.ResourceUsers:     {"used_users", "limit_users"},
	account.ResourceAICredits: {"used_ai_credits", "limit_ai_credits"},
	account.ResourceStorageMB: {"used_storage_mb", "limit_storage_mb"},
	account.ResourceDocuments: {"used_documents", "limit_documents"},
}

// AddUsage adds n to a usage counter. The limit check and the
// increment are one conditional UPDATE, so concurrent spends cannot
// push a counter past its limit. Negative limits always allow;
// negative n refunds down to zero.
func (s *Store) AddUsage(ctx context.Context, tenantID string, res account.Resource, n int64) (int64, error) {
	cols, ok := usageColumns[res]
	if !ok {
		return 0, fmt.Errorf("unknown resource %q", res)
	}

	query := fmt.Sprintf(`
		UPDATE tenants
		SET %[1]s = GREATEST(%[1]s + $2, 0), updated_at = now()
		WHERE id = $1 AND ($2 <= 0 OR %[2]s < 0 OR %[1]s + $2 <= %[2]s)
		RETURNING %[1]s
	`, cols.used, cols.limit)

	var next int64
	err := s.pool.QueryRow(ctx, query, tenantID, n).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		// No row updated: the tenant is missing or over its limit.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM tenants WHERE id = $1)", tenantID,
		).Scan(&exists); err != nil {
			return 0, fmt.Errorf("checking tenant: %w", err)
		}
		if !exists {
			return 0, storage.ErrNotFound
		}
		return 0, storage.ErrQuotaExceeded
	}
	if err != nil {
		return 0, fmt.Errorf("updating usage: %w", err)
	}

	return next, nil
}

// CreateTenantWithAdmin creates a tenant and its first admin account
// in one transaction, seeding the user counter to one. A duplicate
// email rolls back the tenant insert too.
func (s *Store) CreateTenantWithAdmin(ctx context.Context, t *account.Tenant, admin *account.Account) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	seeded := *t
	seeded.Usage.Users = 1
	if err := insertTenant(ctx, tx, &seeded); err != nil {
		return err
	}

	a := *admin
	a.TenantID = t.ID
	if err := insertAccount(ctx, tx, &a); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// takeUserSeat increments a tenant's user counter under the seat
// limit. A negative limit means unlimited.
func takeUserSeat(ctx context.Context, tx pgx.Tx, tenantID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE tenants
		SET used_users = used_users + 1, updated_at = now()
		WHERE id = $1 AND (limit_users < 0 OR used_users + 1 <= limit_users)
	`, tenantID)
	if err != nil {
		return fmt.Errorf("taking user seat: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// No row updated: the tenant is either missing or out of seats.
	var exists bool
	if err := tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM tenants WHERE id = $1)", tenantID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("checking tenant: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrQuotaExceeded
}

func insertAccount(ctx context.Context, db execer, acct *account.Account) error {
	now := time.Now().UTC()
	created := acct.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err := db.Exec(ctx, `
		INSERT INTO accounts (id, tenant_id, email, name, password_hash, role, active,
		                      last_login_at, last_active_at, login_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		acct.ID, acct.TenantID, normalizeEmail(acct.Email), acct.Name, acct.PasswordHash,
		string(acct.Role), acct.Active,
		acct.LastLoginAt, acct.LastActiveAt, acct.LoginCount, created, now,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting account: %w", err)
	}
	return nil
}

func insertTenant(ctx context.Context, db execer, t *account.Tenant) error {
	now := time.Now().UTC()
	created := t.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err := db.Exec(ctx, `
		INSERT INTO tenants (id, name, slug, active, plan, status, period_start, period_end,
		                     limit_users, limit_ai_credits, limit_storage_mb, limit_documents,
		                     used_users, used_ai_credits, used_storage_mb, used_documents,
		                     created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`,
		t.ID, t.Name, t.Slug, t.Active,
		string(t.Subscription.Plan), string(t.Subscription.Status),
		nullTime(t.Subscription.PeriodStart), nullTime(t.Subscription.PeriodEnd),
		int64(t.Limits.Users), int64(t.Limits.AICredits), int64(t.Limits.StorageMB), int64(t.Limits.Documents),
		t.Usage.Users, t.Usage.AICredits, t.Usage.StorageMB, t.Usage.Documents,
		created, now,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting tenant: %w", err)
	}
	return nil
}

func scanAccount(row pgx.Row) (*account.Account, error) {
	var a account.Account
	var role string

	err := row.Scan(
		&a.ID, &a.TenantID, &a.Email, &a.Name, &a.PasswordHash, &role, &a.Active,
		&a.LastLoginAt, &a.LastActiveAt, &a.LoginCount, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning account: %w", err)
	}

	a.Role = account.Role(role)
	return &a, nil
}

func scanTenant(row pgx.Row) (*account.Tenant, error) {
	var t account.Tenant
	var plan, status string
	var periodStart, periodEnd *time.Time

	err := row.Scan(
		&t.ID, &t.Name, &t.Slug, &t.Active, &plan, &status, &periodStart, &periodEnd,
		&t.Limits.Users, &t.Limits.AICredits, &t.Limits.StorageMB, &t.Limits.Documents,
		&t.Usage.Users, &t.Usage.AICredits, &t.Usage.StorageMB, &t.Usage.Documents,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning tenant: %w", err)
	}

	t.Subscription.Plan = account.Plan(plan)
	t.Subscription.Status = account.SubscriptionStatus(status)
	if periodStart != nil {
		t.Subscription.PeriodStart = *periodStart
	}
	if periodEnd != nil {
		t.Subscription.PeriodEnd = *periodEnd
	}
	return &t, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// nullTime converts the zero time to nil for nullable TIMESTAMPTZ columns.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
