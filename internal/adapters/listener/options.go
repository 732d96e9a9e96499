package listener

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/staffrate/pkg/logger"
)

// Option applies a configuration option to the Listener.
type Option func(*Listener)

// WithName sets the listener name for identification and logging.
func WithName(name string) Option {
	return func(l *Listener) {
		if name != "" {
			l.name = name
		}
	}
}

// WithLogger sets a custom logger for the listener.
func WithLogger(log logger.Logger) Option {
	return func(l *Listener) {
		if log != nil {
			l.logger = log
		}
	}
}

// WithReconnectInterval sets the minimum spacing between reconnect attempts.
func WithReconnectInterval(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.reconnect = rate.Every(d)
		}
	}
}

// SubscribeOption configures a single subscription.
type SubscribeOption func(*subscription)

// WithSyncLost registers a callback for lost connections. err wraps ErrSyncLost.
// It runs on the delivery goroutine, never concurrently with onSnapshot.
func WithSyncLost(fn func(ctx context.Context, err error)) SubscribeOption {
	return func(s *subscription) {
		if fn != nil {
			s.onLost = fn
		}
	}
}
