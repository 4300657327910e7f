// Package config provides unified configuration for the AutomateIQ API.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (AUTOMATEIQ_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the AutomateIQ API server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Storage       StorageConfig       `yaml:"storage"`
	Engine        EngineConfig        `yaml:"engine"`
	RateLimit     RateLimitConfig     `yaml:"ratelimit"`
	Billing       BillingConfig       `yaml:"billing"`
	Log           LogConfig           `yaml:"log"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`             // default: ":8080"
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 120s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 10s
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`   // default: 10 MiB
}

// AuthConfig holds session token settings.
type AuthConfig struct {
	Secret       string        `yaml:"secret"`        // required (HMAC signing key)
	SecretFile   string        `yaml:"secret_file"`   // _file variant for secret
	TokenTTL     time.Duration `yaml:"token_ttl"`     // default: 168h (7 days)
	CookieName   string        `yaml:"cookie_name"`   // default: "aiq_session"
	CookieSecure bool          `yaml:"cookie_secure"` // default: false
}

// StorageConfig holds account and tenant persistence settings.
type StorageConfig struct {
	Type     string         `yaml:"type"` // "memory", "postgres", or "mongo", default: "memory"
	Postgres PostgresConfig `yaml:"postgres"`
	Mongo    MongoConfig    `yaml:"mongo"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"` // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MinConns       int32  `yaml:"min_conns"`        // default: 5
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// MongoConfig holds MongoDB-specific settings.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	URIFile  string `yaml:"uri_file"` // _file variant for uri
	Database string `yaml:"database"` // default: "automateiq"
}

// EngineConfig holds AI engine upstream settings.
type EngineConfig struct {
	BaseURL     string        `yaml:"base_url"`     // required
	Timeout     time.Duration `yaml:"timeout"`      // default: 60s
	MaxAttempts int           `yaml:"max_attempts"` // default: 3
}

// RateLimitConfig holds per-client request limiting settings.
type RateLimitConfig struct {
	Enabled           bool        `yaml:"enabled"`             // default: true
	Backend           string      `yaml:"backend"`             // "memory" or "redis", default: "memory"
	RequestsPerMinute int         `yaml:"requests_per_minute"` // default: 120
	Redis             RedisConfig `yaml:"redis"`
}

// RedisConfig holds the Redis connection for the shared rate limiter.
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"` // _file variant for password
	DB           int    `yaml:"db"`
}

// BillingConfig holds the billing provider webhook settings.
type BillingConfig struct {
	WebhookSecret     string `yaml:"webhook_secret"`
	WebhookSecretFile string `yaml:"webhook_secret_file"` // _file variant for webhook_secret
}

// LogConfig holds structured logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error", default: "info"
	Format string `yaml:"format"` // "text" or "json", default: "text"
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    10 << 20,
		},
		Auth: AuthConfig{
			TokenTTL:   168 * time.Hour,
			CookieName: "aiq_session",
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				MaxConns: 25,
				MinConns: 5,
			},
			Mongo: MongoConfig{
				Database: "automateiq",
			},
		},
		Engine: EngineConfig{
			Timeout:     60 * time.Second,
			MaxAttempts: 3,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			Backend:           "memory",
			RequestsPerMinute: 120,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
