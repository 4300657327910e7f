// Package mongo provides a MongoDB implementation of storage.Store.
//
// It targets standalone servers, so it never opens multi-document
// transactions: seat accounting and registration use conditional
// single-document updates plus compensating writes, and quota checks
// ride on $expr guards so a spend and its limit check are one atomic
// operation.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/automateiq/platform/pkg/account"
	"github.com/automateiq/platform/pkg/api"
	"github.com/automateiq/platform/pkg/storage"
)

// Store is a MongoDB-backed storage.Store.
type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	accounts *mongo.Collection
	tenants  *mongo.Collection
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New connects to MongoDB, verifies the connection, and ensures the
// unique indexes the store relies on.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opts := options.Client().ApplyURI(cfg.URI).SetMaxPoolSize(cfg.MaxPoolSize)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client:   client,
		db:       db,
		accounts: db.Collection("accounts"),
		tenants:  db.Collection("tenants"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.accounts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "created_at", Value: 1}},
		},
	})
	if err != nil {
		return err
	}
	_, err = s.tenants.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "slug", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

type accountDoc struct {
	ID           string     `bson:"_id"`
	TenantID     string     `bson:"tenant_id"`
	Email        string     `bson:"email"`
	Name         string     `bson:"name"`
	PasswordHash string     `bson:"password_hash"`
	Role         string     `bson:"role"`
	Active       bool       `bson:"active"`
	LastLoginAt  *time.Time `bson:"last_login_at,omitempty"`
	LastActiveAt *time.Time `bson:"last_active_at,omitempty"`
	LoginCount   int64      `bson:"login_count"`
	CreatedAt    time.Time  `bson:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at"`
}

type countersDoc struct {
	Users     int64 `bson:"users"`
	AICredits int64 `bson:"ai_credits"`
	StorageMB int64 `bson:"storage_mb"`
	Documents int64 `bson:"documents"`
}

type tenantDoc struct {
	ID          string      `bson:"_id"`
	Name        string      `bson:"name"`
	Slug        string      `bson:"slug"`
	Active      bool        `bson:"active"`
	Plan        string      `bson:"plan"`
	Status      string      `bson:"status"`
	PeriodStart *time.Time  `bson:"period_start,omitempty"`
	PeriodEnd   *time.Time  `bson:"period_end,omitempty"`
	Limits      countersDoc `bson:"limits"`
	Usage       countersDoc `bson:"usage"`
	CreatedAt   time.Time   `bson:"created_at"`
	UpdatedAt   time.Time   `bson:"updated_at"`
}

func newAccountDoc(a *account.Account) accountDoc {
	now := time.Now().UTC()
	created := a.CreatedAt
	if created.IsZero() {
		created = now
	}
	return accountDoc{
		ID:           a.ID,
		TenantID:     a.TenantID,
		Email:        normalizeEmail(a.Email),
		Name:         a.Name,
		PasswordHash: a.PasswordHash,
		Role:         string(a.Role),
		Active:       a.Active,
		LastLoginAt:  a.LastLoginAt,
		LastActiveAt: a.LastActiveAt,
		LoginCount:   a.LoginCount,
		CreatedAt:    created,
		UpdatedAt:    now,
	}
}

func (d *accountDoc) toAccount() *account.Account {
	return &account.Account{
		ID:           d.ID,
		TenantID:     d.TenantID,
		Email:        d.Email,
		Name:         d.Name,
		PasswordHash: d.PasswordHash,
		Role:         account.Role(d.Role),
		Active:       d.Active,
		LastLoginAt:  d.LastLoginAt,
		LastActiveAt: d.LastActiveAt,
		LoginCount:   d.LoginCount,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func newTenantDoc(t *account.Tenant) tenantDoc {
	now := time.Now().UTC()
	created := t.CreatedAt
	if created.IsZero() {
		created = now
	}
	return tenantDoc{
		ID:          t.ID,
		Name:        t.Name,
		Slug:        t.Slug,
		Active:      t.Active,
		Plan:        string(t.Subscription.Plan),
		Status:      string(t.Subscription.Status),
		PeriodStart: nullTime(t.Subscription.PeriodStart),
		PeriodEnd:   nullTime(t.Subscription.PeriodEnd),
		Limits: countersDoc{
			Users:     int64(t.Limits.Users),
			AICredits: int64(t.Limits.AICredits),
			StorageMB: int64(t.Limits.StorageMB),
			Documents: int64(t.Limits.Documents),
		},
		Usage: countersDoc{
			Users:     t.Usage.Users,
			AICredits: t.Usage.AICredits,
			StorageMB: t.Usage.StorageMB,
			Documents: t.Usage.Documents,
		},
		CreatedAt: created,
		UpdatedAt: now,
	}
}

func (d *tenantDoc) toTenant() *account.Tenant {
	t := &account.Tenant{
		ID:     d.ID,
		Name:   d.Name,
		Slug:   d.Slug,
		Active: d.Active,
		Subscription: account.Subscription{
			Plan:   account.Plan(d.Plan),
			Status: account.SubscriptionStatus(d.Status),
		},
		Limits: account.Limits{
			Users:     account.Limit(d.Limits.Users),
			AICredits: account.Limit(d.Limits.AICredits),
			StorageMB: account.Limit(d.Limits.StorageMB),
			Documents: account.Limit(d.Limits.Documents),
		},
		Usage: account.Usage{
			Users:     d.Usage.Users,
			AICredits: d.Usage.AICredits,
			StorageMB: d.Usage.StorageMB,
			Documents: d.Usage.Documents,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if d.PeriodStart != nil {
		t.Subscription.PeriodStart = *d.PeriodStart
	}
	if d.PeriodEnd != nil {
		t.Subscription.PeriodEnd = *d.PeriodEnd
	}
	return t
}

// CreateAccount inserts an account after taking one user seat on its
// tenant. A failed insert puts the seat back.
func (s *Store) CreateAccount(ctx context.Context, acct *account.Account) error {
	if err := s.takeUserSeat(ctx, acct.TenantID); err != nil {
		return err
	}

	if _, err := s.accounts.InsertOne(ctx, newAccountDoc(acct)); err != nil {
		s.releaseUserSeat(context.WithoutCancel(ctx), acct.TenantID)
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting account: %w", err)
	}
	return nil
}

// GetAccount fetches an account by ID.
func (s *Store) GetAccount(ctx context.Context, id string) (*account.Account, error) {
	var doc accountDoc
	err := s.accounts.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	return doc.toAccount(), nil
}

// GetAccountByEmail fetches an account by its normalized email.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*account.Account, error) {
	var doc accountDoc
	err := s.accounts.FindOne(ctx, bson.M{"email": normalizeEmail(email)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	return doc.toAccount(), nil
}

// UpdateAccount persists account changes. Flipping the active flag
// moves the tenant's user seat; the update is guarded on the old
// active value so a concurrent flip cannot double-count a seat.
func (s *Store) UpdateAccount(ctx context.Context, acct *account.Account) error {
	old, err := s.GetAccount(ctx, acct.ID)
	if err != nil {
		return err
	}

	if acct.Active && !old.Active {
		if err := s.takeUserSeat(ctx, old.TenantID); err != nil {
			return err
		}
	}

	update := bson.M{"$set": bson.M{
		"email":         normalizeEmail(acct.Email),
		"name":          acct.Name,
		"password_hash": acct.PasswordHash,
		"role":          string(acct.Role),
		"active":        acct.Active,
		"updated_at":    time.Now().UTC(),
	}}
	res, err := s.accounts.UpdateOne(ctx, bson.M{"_id": acct.ID, "active": old.Active}, update)
	if err != nil {
		if acct.Active && !old.Active {
			s.releaseUserSeat(context.WithoutCancel(ctx), old.TenantID)
		}
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("updating account: %w", err)
	}
	if res.MatchedCount == 0 {
		// The account flipped under us; undo our seat take.
		if acct.Active && !old.Active {
			s.releaseUserSeat(context.WithoutCancel(ctx), old.TenantID)
		}
		return storage.ErrConflict
	}

	if !acct.Active && old.Active {
		s.releaseUserSeat(ctx, old.TenantID)
	}
	return nil
}

// ListAccounts returns one page of a tenant's accounts ordered by
// creation time, plus the total count.
func (s *Store) ListAccounts(ctx context.Context, tenantID string, opts api.PageOptions) ([]*account.Account, int, error) {
	opts = opts.Normalize()
	filter := bson.M{"tenant_id": tenantID}

	total, err := s.accounts.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("counting accounts: %w", err)
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(opts.Offset())).
		SetLimit(int64(opts.PerPage))

	cur, err := s.accounts.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, 0, fmt.Errorf("querying accounts: %w", err)
	}

	var docs []accountDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("decoding accounts: %w", err)
	}

	accounts := make([]*account.Account, 0, len(docs))
	for i := range docs {
		accounts = append(accounts, docs[i].toAccount())
	}
	return accounts, int(total), nil
}

// TouchAccountActivity updates last_active_at and nothing else.
func (s *Store) TouchAccountActivity(ctx context.Context, id string, at time.Time) error {
	res, err := s.accounts.UpdateByID(ctx, id, bson.M{"$set": bson.M{"last_active_at": at.UTC()}})
	if err != nil {
		return fmt.Errorf("touching account activity: %w", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RecordLogin stamps login time and activity and increments the login
// counter.
func (s *Store) RecordLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.accounts.UpdateByID(ctx, id, bson.M{
		"$set": bson.M{"last_login_at": at.UTC(), "last_active_at": at.UTC()},
		"$inc": bson.M{"login_count": 1},
	})
	if err != nil {
		return fmt.Errorf("recording login: %w", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CreateTenant inserts a tenant.
func (s *Store) CreateTenant(ctx context.Context, t *account.Tenant) error {
	if _, err := s.tenants.InsertOne(ctx, newTenantDoc(t)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting tenant: %w", err)
	}
	return nil
}

// GetTenant fetches a tenant by ID.
func (s *Store) GetTenant(ctx context.Context, id string) (*account.Tenant, error) {
	var doc tenantDoc
	err := s.tenants.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tenant: %w", err)
	}
	return doc.toTenant(), nil
}

// GetTenantBySlug fetches a tenant by slug.
func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (*account.Tenant, error) {
	var doc tenantDoc
	err := s.tenants.FindOne(ctx, bson.M{"slug": slug}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tenant: %w", err)
	}
	return doc.toTenant(), nil
}

// UpdateTenant persists tenant changes. Usage and subscription are
// not touched; they change through AddUsage and UpdateSubscription.
func (s *Store) UpdateTenant(ctx context.Context, t *account.Tenant) error {
	update := bson.M{"$set": bson.M{
		"name":   t.Name,
		"slug":   t.Slug,
		"active": t.Active,
		"limits": countersDoc{
			Users:     int64(t.Limits.Users),
			AICredits: int64(t.Limits.AICredits),
			StorageMB: int64(t.Limits.StorageMB),
			Documents: int64(t.Limits.Documents),
		},
		"updated_at": time.Now().UTC(),
	}}
	res, err := s.tenants.UpdateByID(ctx, t.ID, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("updating tenant: %w", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateSubscription replaces a tenant's subscription and, when
// limits is non-nil, its limits.
func (s *Store) UpdateSubscription(ctx context.Context, tenantID string, sub account.Subscription, limits *account.Limits) error {
	set := bson.M{
		"plan":         string(sub.Plan),
		"status":       string(sub.Status),
		"period_start": nullTime(sub.PeriodStart),
		"period_end":   nullTime(sub.PeriodEnd),
		"updated_at":   time.Now().UTC(),
	}
	if limits != nil {
		set["limits"] = countersDoc{
			Users:     int64(limits.Users),
			AICredits: int64(limits.AICredits),
			StorageMB: int64(limits.StorageMB),
			Documents: int64(limits.Documents),
		}
	}

	res, err := s.tenants.UpdateByID(ctx, tenantID, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("updating subscription: %w", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// resourceFields maps each resource to its usage and limit document
// paths. Paths come from this table only, never from input.
var resourceFields = map[account.Resource]struct {
	used  string
	limit string
}{
	account.ResourceUsers:     {"usage.users", "limits.users"},
	account.ResourceAICredits: {"usage.ai_credits", "limits.ai_credits"},
	account.ResourceStorageMB: {"usage.storage_mb", "limits.storage_mb"},
	account.ResourceDocuments: {"usage.documents", "limits.documents"},
}

// AddUsage adds n to a usage counter. For positive n the limit check
// rides on an $expr filter, so the check and the increment are one
// atomic operation. Negative limits always allow; negative n refunds
// down to zero.
func (s *Store) AddUsage(ctx context.Context, tenantID string, res account.Resource, n int64) (int64, error) {
	fields, ok := resourceFields[res]
	if !ok {
		return 0, fmt.Errorf("unknown resource %q", res)
	}

	filter := bson.M{"_id": tenantID}
	if n > 0 {
		filter["$expr"] = bson.M{"$or": bson.A{
			bson.M{"$lt": bson.A{"$" + fields.limit, 0}},
			bson.M{"$lte": bson.A{
				bson.M{"$add": bson.A{"$" + fields.used, n}},
				"$" + fields.limit,
			}},
		}}
	}

	// Pipeline update so the counter can floor at zero on refunds.
	update := bson.A{bson.M{"$set": bson.M{
		fields.used: bson.M{"$max": bson.A{0, bson.M{"$add": bson.A{"$" + fields.used, n}}}},
		"updated_at": time.Now().UTC(),
	}}}

	var doc tenantDoc
	err := s.tenants.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// No match: the tenant is missing or over its limit.
		err := s.tenants.FindOne(ctx, bson.M{"_id": tenantID}).Err()
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, storage.ErrNotFound
		}
		if err != nil {
			return 0, fmt.Errorf("checking tenant: %w", err)
		}
		return 0, storage.ErrQuotaExceeded
	}
	if err != nil {
		return 0, fmt.Errorf("updating usage: %w", err)
	}

	return doc.toTenant().Usage.Get(res), nil
}

// CreateTenantWithAdmin creates a tenant and its first admin account,
// seeding the user counter to one. A failed admin insert removes the
// tenant again so registration never leaves an orphan behind.
func (s *Store) CreateTenantWithAdmin(ctx context.Context, t *account.Tenant, admin *account.Account) error {
	seeded := *t
	seeded.Usage.Users = 1
	if _, err := s.tenants.InsertOne(ctx, newTenantDoc(&seeded)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting tenant: %w", err)
	}

	a := *admin
	a.TenantID = t.ID
	if _, err := s.accounts.InsertOne(ctx, newAccountDoc(&a)); err != nil {
		if _, derr := s.tenants.DeleteOne(context.WithoutCancel(ctx), bson.M{"_id": t.ID}); derr != nil {
			slog.Warn("removing tenant after failed registration", "tenant_id", t.ID, "error", derr)
		}
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting admin account: %w", err)
	}
	return nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects from MongoDB.
func (s *Store) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		slog.Warn("disconnecting from MongoDB", "error", err)
	}
}

// takeUserSeat increments a tenant's user counter under the seat
// limit. A negative limit means unlimited.
func (s *Store) takeUserSeat(ctx context.Context, tenantID string) error {
	filter := bson.M{
		"_id": tenantID,
		"$expr": bson.M{"$or": bson.A{
			bson.M{"$lt": bson.A{"$limits.users", 0}},
			bson.M{"$lte": bson.A{
				bson.M{"$add": bson.A{"$usage.users", 1}},
				"$limits.users",
			}},
		}},
	}
	update := bson.M{
		"$inc": bson.M{"usage.users": 1},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}

	err := s.tenants.FindOneAndUpdate(ctx, filter, update).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		err := s.tenants.FindOne(ctx, bson.M{"_id": tenantID}).Err()
		if errors.Is(err, mongo.ErrNoDocuments) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("checking tenant: %w", err)
		}
		return storage.ErrQuotaExceeded
	}
	if err != nil {
		return fmt.Errorf("taking user seat: %w", err)
	}
	return nil
}

// releaseUserSeat decrements a tenant's user counter, flooring at
// zero. Failures are logged, not returned: callers use it to unwind
// after another write already failed.
func (s *Store) releaseUserSeat(ctx context.Context, tenantID string) {
	update := bson.A{bson.M{"$set": bson.M{
		"usage.users": bson.M{"$max": bson.A{0, bson.M{"$subtract": bson.A{"$usage.users", 1}}}},
		"updated_at":  time.Now().UTC(),
	}}}
	if _, err := s.tenants.UpdateByID(ctx, tenantID, update); err != nil {
		slog.Warn("releasing user seat failed", "tenant_id", tenantID, "error", err)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// nullTime converts the zero time to nil so it stores as a missing
// field instead of the zero timestamp.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
