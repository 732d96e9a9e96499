package repository

import (
	"time"

	"github.com/okian/staffrate/pkg/logger"
)

const (
	defaultKeyPrefix   = "staffrate:"
	defaultChannel     = "staffrate_changes"
	defaultHealthCheck = 15 * time.Second
)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces every key and the change channel.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithHealthCheckInterval sets how long the change feed may stay silent
// before it is pinged. An unanswered ping fails the watch after a second
// interval.
func WithHealthCheckInterval(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.healthCheck = d
		}
	}
}

// WithRedisLogger overrides the store logger.
func WithRedisLogger(l logger.Logger) RedisOption {
	return func(s *RedisStore) {
		if l != nil {
			s.log = l
		}
	}
}

// PgOption configures a PgStore.
type PgOption func(*PgStore)

// WithNotifyChannel sets the LISTEN/NOTIFY channel name.
func WithNotifyChannel(channel string) PgOption {
	return func(s *PgStore) {
		if channel != "" {
			s.channel = channel
		}
	}
}

// WithPgLogger overrides the store logger.
func WithPgLogger(l logger.Logger) PgOption {
	return func(s *PgStore) {
		if l != nil {
			s.log = l
		}
	}
}
