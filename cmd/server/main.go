// Command server runs the AutomateIQ API server.
//
// Configuration comes from a YAML file plus AUTOMATEIQ_* environment
// overrides; see pkg/config for the full set. The most common variables:
//
//	AUTOMATEIQ_CONFIG       - Config file path (default: ./config.yaml)
//	AUTOMATEIQ_AUTH_SECRET  - Session token signing secret (required)
//	AUTOMATEIQ_ENGINE_URL   - AI engine base URL (required)
//	AUTOMATEIQ_STORAGE      - Storage type: "memory", "postgres", or "mongo"
//	AUTOMATEIQ_ADDR         - Listen address (default: ":8080")
//
// The --dev flag starts the server with no configuration at all: memory
// storage, a fixed signing secret, and a seeded demo organization.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/automateiq/platform/pkg/account"
	"github.com/automateiq/platform/pkg/api"
	"github.com/automateiq/platform/pkg/auth"
	"github.com/automateiq/platform/pkg/auth/redisrate"
	"github.com/automateiq/platform/pkg/auth/token"
	"github.com/automateiq/platform/pkg/config"
	"github.com/automateiq/platform/pkg/engine"
	"github.com/automateiq/platform/pkg/observability"
	"github.com/automateiq/platform/pkg/storage"
	"github.com/automateiq/platform/pkg/storage/memory"
	"github.com/automateiq/platform/pkg/storage/mongo"
	"github.com/automateiq/platform/pkg/storage/postgres"
	"github.com/automateiq/platform/pkg/transport"
)

// Demo credentials seeded by --dev.
const (
	demoOrgName  = "Demo Workshop"
	demoEmail    = "demo@automateiq.test"
	demoPassword = "demo-password-1"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		dev        bool
	)
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.BoolVar(&dev, "dev", false, "development mode: memory storage, fixed secret, seeded demo org")
	flag.Parse()

	// A .env file is a local development convenience; absence is fine.
	_ = godotenv.Load()

	if dev {
		// Fill in the required settings so a bare "server --dev" starts.
		// Explicit environment variables still win.
		setEnvDefault("AUTOMATEIQ_AUTH_SECRET", "dev-secret-do-not-use-in-production")
		setEnvDefault("AUTOMATEIQ_ENGINE_URL", "http://localhost:9090")
		setEnvDefault("AUTOMATEIQ_STORAGE", "memory")
		setEnvDefault("AUTOMATEIQ_LOG_LEVEL", "debug")
		setEnvDefault("AUTOMATEIQ_LOG_FORMAT", "text")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	observability.SetupLogging(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	if dev {
		if err := seedDemoOrg(ctx, store); err != nil {
			return fmt.Errorf("seeding demo organization: %w", err)
		}
	}

	eng, err := engine.New(engine.Config{
		BaseURL:     cfg.Engine.BaseURL,
		Timeout:     cfg.Engine.Timeout,
		MaxAttempts: cfg.Engine.MaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("creating engine client: %w", err)
	}
	defer eng.Close()

	issuer, err := token.NewIssuer(token.Config{
		Secret: cfg.Auth.Secret,
		TTL:    cfg.Auth.TokenTTL,
	})
	if err != nil {
		return fmt.Errorf("creating token issuer: %w", err)
	}
	verifier, err := token.NewVerifier(token.Config{Secret: cfg.Auth.Secret})
	if err != nil {
		return fmt.Errorf("creating token verifier: %w", err)
	}

	authenticator, err := auth.NewAuthenticator(auth.Config{
		Verifier:   verifier,
		Store:      store,
		CookieName: cfg.Auth.CookieName,
	})
	if err != nil {
		return fmt.Errorf("creating authenticator: %w", err)
	}

	limiter, err := buildLimiter(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating rate limiter: %w", err)
	}
	if closer, ok := limiter.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	metricsPath := ""
	if cfg.Observability.Metrics.Enabled {
		metricsPath = cfg.Observability.Metrics.Path
	}

	handler, err := transport.New(transport.Config{
		Store:         store,
		Issuer:        issuer,
		Verifier:      verifier,
		Engine:        eng,
		Authenticator: authenticator,
		Limiter:       limiter,
		CookieName:    cfg.Auth.CookieName,
		CookieSecure:  cfg.Auth.CookieSecure,
		WebhookSecret: cfg.Billing.WebhookSecret,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
		MetricsPath:   metricsPath,
	})
	if err != nil {
		return fmt.Errorf("creating HTTP handler: %w", err)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting",
			"addr", cfg.Server.Addr,
			"storage", cfg.Storage.Type,
			"engine", cfg.Engine.BaseURL,
			"ratelimit", limiterLabel(cfg))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// openStore connects the configured storage backend.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "memory":
		slog.Warn("using in-memory storage, data is lost on restart")
		return memory.New(), nil
	case "postgres":
		return postgres.New(ctx, postgres.Config{
			DSN:            cfg.Storage.Postgres.DSN,
			MaxConns:       cfg.Storage.Postgres.MaxConns,
			MinConns:       cfg.Storage.Postgres.MinConns,
			MigrateOnStart: cfg.Storage.Postgres.MigrateOnStart,
		})
	case "mongo":
		return mongo.New(ctx, mongo.Config{
			URI:      cfg.Storage.Mongo.URI,
			Database: cfg.Storage.Mongo.Database,
		})
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// buildLimiter picks the configured rate limiter backend. A nil limiter
// means limiting is disabled.
func buildLimiter(ctx context.Context, cfg *config.Config) (auth.RateLimiter, error) {
	if !cfg.RateLimit.Enabled {
		return nil, nil
	}
	switch cfg.RateLimit.Backend {
	case "memory":
		return auth.NewInProcessLimiter(cfg.RateLimit.RequestsPerMinute), nil
	case "redis":
		return redisrate.New(ctx, redisrate.Config{
			Addr:              cfg.RateLimit.Redis.Addr,
			Password:          cfg.RateLimit.Redis.Password,
			DB:                cfg.RateLimit.Redis.DB,
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		})
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimit.Backend)
	}
}

// seedDemoOrg creates the demo organization on a business plan so every
// AI route can be exercised out of the box. Re-running against a store
// that already has it is fine.
func seedDemoOrg(ctx context.Context, store storage.Store) error {
	hash, err := account.HashPassword(demoPassword)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	limits := account.DefaultLimits(account.PlanBusiness)
	tenant := &account.Tenant{
		ID:     api.NewTenantID(),
		Name:   demoOrgName,
		Slug:   account.Slugify(demoOrgName),
		Active: true,
		Subscription: account.Subscription{
			Plan:        account.PlanBusiness,
			Status:      account.StatusActive,
			PeriodStart: now,
			PeriodEnd:   now.Add(30 * 24 * time.Hour),
		},
		Limits:    limits,
		CreatedAt: now,
		UpdatedAt: now,
	}
	admin := &account.Account{
		ID:           api.NewAccountID(),
		TenantID:     tenant.ID,
		Email:        demoEmail,
		Name:         "Demo Admin",
		PasswordHash: hash,
		Role:         account.RoleAdmin,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = store.CreateTenantWithAdmin(ctx, tenant, admin)
	switch {
	case errors.Is(err, storage.ErrConflict):
		slog.Info("demo organization already seeded", "email", demoEmail)
		return nil
	case err != nil:
		return err
	}

	slog.Info("demo organization seeded",
		"org", demoOrgName,
		"email", demoEmail,
		"password", demoPassword,
		"plan", account.PlanBusiness)
	return nil
}

func setEnvDefault(key, value string) {
	if os.Getenv(key) == "" {
		os.Setenv(key, value)
	}
}

func limiterLabel(cfg *config.Config) string {
	if !cfg.RateLimit.Enabled {
		return "disabled"
	}
	return cfg.RateLimit.Backend
}
