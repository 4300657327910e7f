package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, AUTOMATEIQ_CONFIG env, ./config.yaml, /etc/automateiq/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	// Start with defaults.
	cfg := Defaults()

	// Discover and load YAML config file.
	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	// Apply environment variable overrides.
	applyEnvOverrides(&cfg)

	// Resolve _file references.
	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	// Validate.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. AUTOMATEIQ_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/automateiq/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	// Explicit path takes priority.
	if configPath != "" {
		return configPath
	}

	// Check AUTOMATEIQ_CONFIG env var.
	if envPath := os.Getenv("AUTOMATEIQ_CONFIG"); envPath != "" {
		return envPath
	}

	// Check common locations.
	candidates := []string{
		"config.yaml",
		"/etc/automateiq/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps AUTOMATEIQ_* environment variables to config
// fields. Env values win over both defaults and the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AUTOMATEIQ_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("AUTOMATEIQ_AUTH_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	if v := os.Getenv("AUTOMATEIQ_AUTH_SECRET_FILE"); v != "" {
		cfg.Auth.SecretFile = v
	}
	if v := os.Getenv("AUTOMATEIQ_TOKEN_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			cfg.Auth.TokenTTL = ttl
		}
	}
	if v := os.Getenv("AUTOMATEIQ_STORAGE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("AUTOMATEIQ_POSTGRES_DSN"); v != "" {
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("AUTOMATEIQ_MONGO_URI"); v != "" {
		cfg.Storage.Mongo.URI = v
	}
	if v := os.Getenv("AUTOMATEIQ_MONGO_DB"); v != "" {
		cfg.Storage.Mongo.Database = v
	}
	if v := os.Getenv("AUTOMATEIQ_ENGINE_URL"); v != "" {
		cfg.Engine.BaseURL = v
	}
	if v := os.Getenv("AUTOMATEIQ_RATELIMIT_BACKEND"); v != "" {
		cfg.RateLimit.Backend = v
	}
	if v := os.Getenv("AUTOMATEIQ_RATELIMIT_RPM"); v != "" {
		if rpm, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.RequestsPerMinute = rpm
		}
	}
	if v := os.Getenv("AUTOMATEIQ_REDIS_ADDR"); v != "" {
		cfg.RateLimit.Redis.Addr = v
	}
	if v := os.Getenv("AUTOMATEIQ_WEBHOOK_SECRET"); v != "" {
		cfg.Billing.WebhookSecret = v
	}
	if v := os.Getenv("AUTOMATEIQ_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("AUTOMATEIQ_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// resolveFileReferences reads _file fields and populates the corresponding
// value fields. For each field ending in _file, if the value field is empty
// and the file field is set, the file is read, whitespace is trimmed, and
// the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// auth.secret_file -> auth.secret
	if cfg.Auth.SecretFile != "" && cfg.Auth.Secret == "" {
		val, err := readSecretFile(cfg.Auth.SecretFile)
		if err != nil {
			return fmt.Errorf("auth.secret_file: %w", err)
		}
		cfg.Auth.Secret = val
	}

	// storage.postgres.dsn_file -> storage.postgres.dsn
	if cfg.Storage.Postgres.DSNFile != "" && cfg.Storage.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Storage.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.dsn_file: %w", err)
		}
		cfg.Storage.Postgres.DSN = val
	}

	// storage.mongo.uri_file -> storage.mongo.uri
	if cfg.Storage.Mongo.URIFile != "" && cfg.Storage.Mongo.URI == "" {
		val, err := readSecretFile(cfg.Storage.Mongo.URIFile)
		if err != nil {
			return fmt.Errorf("storage.mongo.uri_file: %w", err)
		}
		cfg.Storage.Mongo.URI = val
	}

	// ratelimit.redis.password_file -> ratelimit.redis.password
	if cfg.RateLimit.Redis.PasswordFile != "" && cfg.RateLimit.Redis.Password == "" {
		val, err := readSecretFile(cfg.RateLimit.Redis.PasswordFile)
		if err != nil {
			return fmt.Errorf("ratelimit.redis.password_file: %w", err)
		}
		cfg.RateLimit.Redis.Password = val
	}

	// billing.webhook_secret_file -> billing.webhook_secret
	if cfg.Billing.WebhookSecretFile != "" && cfg.Billing.WebhookSecret == "" {
		val, err := readSecretFile(cfg.Billing.WebhookSecretFile)
		if err != nil {
			return fmt.Errorf("billing.webhook_secret_file: %w", err)
		}
		cfg.Billing.WebhookSecret = val
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding
// whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
