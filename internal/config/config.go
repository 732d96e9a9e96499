// Package config defines service configuration structures and loading hooks.
package config

import (
	"time"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`

	// LogFormat selects text or json log output.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr" validate:"required"`

	// StoreBackend picks the shared rating store.
	StoreBackend string `koanf:"store_backend" validate:"oneof=memory redis postgres"`

	// RedisAddr, RedisPassword, RedisDB and RedisKeyPrefix configure the redis backend.
	RedisAddr      string `koanf:"redis_addr" validate:"required_if=StoreBackend redis"`
	RedisPassword  string `koanf:"redis_password"`
	RedisDB        int    `koanf:"redis_db" validate:"gte=0"`
	RedisKeyPrefix string `koanf:"redis_key_prefix"`

	// RedisHealthCheckMS is how long the change feed may stay silent before
	// it is pinged.
	RedisHealthCheckMS int `koanf:"redis_health_check_ms" validate:"gt=0"`

	// DatabaseURL and DBMaxConns configure the postgres backend.
	DatabaseURL string `koanf:"database_url" validate:"required_if=StoreBackend postgres"`
	DBMaxConns  int    `koanf:"db_max_conns" validate:"gte=0"`

	// LedgerPath is where this device keeps the ids it already voted for.
	// Empty keeps the ledger in memory only.
	LedgerPath string `koanf:"ledger_path"`

	// ResyncIntervalMS paces reconnects after the change feed drops.
	ResyncIntervalMS int `koanf:"resync_interval_ms" validate:"gt=0"`

	// RosterPath is a YAML roster provisioned at startup.
	RosterPath string `koanf:"roster_path"`

	// ShutdownTimeoutMS bounds graceful HTTP shutdown.
	ShutdownTimeoutMS int `koanf:"shutdown_timeout_ms" validate:"gt=0"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		Addr:               ":9080",
		StoreBackend:       BackendMemory,
		RedisAddr:          "localhost:6379",
		RedisKeyPrefix:     "staffrate:",
		RedisHealthCheckMS: 15000,
		DBMaxConns:         4,
		LedgerPath:         "data/ledger.json",
		ResyncIntervalMS:   1000,
		ShutdownTimeoutMS:  5000,
	}
}

// ResyncInterval returns ResyncIntervalMS as a duration.
func (c *Config) ResyncInterval() time.Duration {
	return time.Duration(c.ResyncIntervalMS) * time.Millisecond
}

// RedisHealthCheck returns RedisHealthCheckMS as a duration.
func (c *Config) RedisHealthCheck() time.Duration {
	return time.Duration(c.RedisHealthCheckMS) * time.Millisecond
}

// ShutdownTimeout returns ShutdownTimeoutMS as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}
