// Package listener turns a store's change feed into serial snapshot callbacks.
package listener

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/staffrate/internal/domain/model"
	"github.com/okian/staffrate/pkg/logger"
	"github.com/okian/staffrate/pkg/metrics"
)

const defaultReconnectInterval = time.Second

// Source is the part of a rating store the listener needs.
type Source interface {
	// Watch emits the current snapshot and then every change. The channel
	// closes when ctx ends or the connection is lost.
	Watch(ctx context.Context) (<-chan model.Snapshot, error)
}

// Listener subscribes to a Source.
type Listener struct {
	source    Source
	name      string
	reconnect rate.Limit
	logger    logger.Logger
}

// New creates a listener for source.
func New(source Source, opts ...Option) *Listener {
	l := &Listener{
		source:    source,
		name:      "listener",
		reconnect: rate.Every(defaultReconnectInterval),
	}
	for _, opt := range opts {
		opt(l)
	}
	switch {
	case l.logger == nil:
		l.logger = logger.Named(l.name)
	case l.name != "listener":
		l.logger = l.logger.Named(l.name)
	}
	return l
}

// Subscription is a cancellable handle to a running delivery loop.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops delivery and waits for the loop to exit. No callback runs after
// Cancel returns. Must not be called from inside a callback.
func (s *Subscription) Cancel() {
	s.cancel()
	<-s.done
}

// Done is closed once the delivery loop has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

type subscription struct {
	onSnapshot func(ctx context.Context, snap model.Snapshot)
	onLost     func(ctx context.Context, err error)

	last      uint64
	delivered bool
	lost      bool
}

// Subscribe starts delivering snapshots to onSnapshot: the full state first,
// then one call per change, serially from a single goroutine. A snapshot
// older than the last delivered one is discarded. When the connection drops
// the listener reports the loss, reconnects and re-fetches the full state.
func (l *Listener) Subscribe(ctx context.Context, onSnapshot func(ctx context.Context, snap model.Snapshot), opts ...SubscribeOption) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		onSnapshot: onSnapshot,
		onLost:     func(context.Context, error) {},
	}
	for _, opt := range opts {
		opt(sub)
	}

	handle := &Subscription{cancel: cancel, done: make(chan struct{})}
	go l.run(ctx, sub, handle.done)
	return handle
}

func (l *Listener) run(ctx context.Context, sub *subscription, done chan struct{}) {
	defer close(done)

	limiter := rate.NewLimiter(l.reconnect, 1)
	metrics.UpdateSyncState(metrics.SyncStatePending)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		feed, err := l.source.Watch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.syncLost(ctx, sub, fmt.Errorf("%w: watch: %w", ErrSyncLost, err))
			continue
		}

		if !l.consume(ctx, sub, feed) {
			return
		}
		l.syncLost(ctx, sub, fmt.Errorf("%w: change feed closed", ErrSyncLost))
	}
}

// consume delivers snapshots from feed until it closes. Returns false when ctx ended.
func (l *Listener) consume(ctx context.Context, sub *subscription, feed <-chan model.Snapshot) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case snap, ok := <-feed:
			if !ok {
				return ctx.Err() == nil
			}
			if ctx.Err() != nil {
				return false
			}
			l.deliver(ctx, sub, snap)
		}
	}
}

func (l *Listener) deliver(ctx context.Context, sub *subscription, snap model.Snapshot) { //nolint:gocritic // hugeParam: snapshots travel by value
	if sub.delivered && snap.Version < sub.last {
		metrics.RecordSnapshotDropped()
		l.logger.Debug(ctx, "dropping stale snapshot",
			logger.Uint64("version", snap.Version),
			logger.Uint64("last", sub.last),
		)
		return
	}

	if sub.lost {
		l.logger.Info(ctx, "sync restored", logger.Uint64("version", snap.Version))
	}
	sub.last, sub.delivered, sub.lost = snap.Version, true, false
	metrics.RecordSnapshot(snap.Version, len(snap.Entities))
	metrics.UpdateSyncState(metrics.SyncStateLive)

	sub.onSnapshot(ctx, snap)
}

// syncLost reports the first failure of an outage; retries stay quiet until
// a snapshot gets through again.
func (l *Listener) syncLost(ctx context.Context, sub *subscription, err error) {
	if sub.lost {
		l.logger.Debug(ctx, "reconnect failed", logger.Error(err))
		return
	}
	sub.lost = true
	metrics.RecordSyncLost()
	metrics.UpdateSyncState(metrics.SyncStateStale)
	metrics.RecordErrorByComponent("listener", "sync_lost")
	l.logger.Warn(ctx, "sync lost", logger.Error(err))

	sub.onLost(ctx, err)
}
