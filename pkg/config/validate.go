package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// All problems are collected and reported together.
func (c *Config) Validate() error {
	var errs []error

	// server.addr is required.
	if c.Server.Addr == "" {
		errs = append(errs, fmt.Errorf("server.addr is required"))
	}

	// auth.secret is required (possibly via auth.secret_file).
	if c.Auth.Secret == "" {
		errs = append(errs, fmt.Errorf("auth.secret or auth.secret_file is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("auth.token_ttl must be > 0, got %v", c.Auth.TokenTTL))
	}

	// storage.type must be a known value.
	switch c.Storage.Type {
	case "memory", "postgres", "mongo":
		// valid
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\", \"postgres\", or \"mongo\", got %q", c.Storage.Type))
	}

	// Backend-specific connection settings.
	if c.Storage.Type == "postgres" && c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
		errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
	}
	if c.Storage.Type == "mongo" && c.Storage.Mongo.URI == "" && c.Storage.Mongo.URIFile == "" {
		errs = append(errs, fmt.Errorf("storage.mongo.uri or storage.mongo.uri_file is required when storage.type is \"mongo\""))
	}

	// engine.base_url is required.
	if c.Engine.BaseURL == "" {
		errs = append(errs, fmt.Errorf("engine.base_url is required"))
	}

	// ratelimit.backend must be a known value.
	switch c.RateLimit.Backend {
	case "memory", "redis":
		// valid
	default:
		errs = append(errs, fmt.Errorf("ratelimit.backend must be \"memory\" or \"redis\", got %q", c.RateLimit.Backend))
	}
	if c.RateLimit.Enabled && c.RateLimit.Backend == "redis" && c.RateLimit.Redis.Addr == "" {
		errs = append(errs, fmt.Errorf("ratelimit.redis.addr is required when ratelimit.backend is \"redis\""))
	}

	// log.level and log.format must be known values.
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, fmt.Errorf("log.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
		// valid
	default:
		errs = append(errs, fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
