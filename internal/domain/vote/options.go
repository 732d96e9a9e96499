package vote

import (
	"time"

	"github.com/okian/staffrate/pkg/logger"
)

// Option applies a configuration option to the Coordinator.
type Option func(*Coordinator)

// WithLogger sets a custom logger for the coordinator.
func WithLogger(log logger.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.logger = log
		}
	}
}

// WithClock overrides the receipt timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}
