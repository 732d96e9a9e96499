// Package service composes the rating store, the vote ledger and the sync
// listener into the kiosk's business service used by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/staffrate/internal/adapters/listener"
	"github.com/okian/staffrate/internal/adapters/repository"
	"github.com/okian/staffrate/internal/domain/ledger"
	"github.com/okian/staffrate/internal/domain/model"
	"github.com/okian/staffrate/internal/domain/vote"
	"github.com/okian/staffrate/pkg/logger"
	"github.com/okian/staffrate/pkg/metrics"
)

// ErrNotStarted is returned by operations that need a running service.
var ErrNotStarted = errors.New("service not started")

const defaultReconnectInterval = time.Second

// Service keeps the latest board and accepts votes for this device.
type Service struct {
	mu sync.RWMutex

	// Core components
	store       repository.Store
	ledger      *ledger.Ledger
	coordinator *vote.Coordinator
	listener    *listener.Listener
	sub         *listener.Subscription

	// Configuration
	roster            []model.Entity
	renderers         []Renderer
	reconnectInterval time.Duration
	now               func() time.Time

	// State
	started   bool
	snapshot  model.Snapshot
	received  bool
	stale     bool
	updatedAt time.Time

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.logger = log
		}
	}
}

// WithRenderer adds a renderer; renderers are called in registration order.
func WithRenderer(r Renderer) Option {
	return func(s *Service) {
		if r != nil {
			s.renderers = append(s.renderers, r)
		}
	}
}

// WithRoster provisions the given staff members on Start.
func WithRoster(entities []model.Entity) Option {
	return func(s *Service) {
		s.roster = entities
	}
}

// WithReconnectInterval paces listener reconnects.
func WithReconnectInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.reconnectInterval = d
		}
	}
}

// WithClock overrides the time source used for board timestamps and receipts.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Service over store and ledger. Nothing runs until Start.
func New(store repository.Store, l *ledger.Ledger, opts ...Option) *Service {
	s := &Service{
		store:             store,
		ledger:            l,
		reconnectInterval: defaultReconnectInterval,
		now:               time.Now,
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}

	s.coordinator = vote.NewCoordinator(l, store,
		vote.WithLogger(s.logger.Named("vote")),
		vote.WithClock(s.now),
	)
	s.listener = listener.New(store,
		listener.WithLogger(s.logger.Named("listener")),
		listener.WithReconnectInterval(s.reconnectInterval),
	)
	return s
}

// Start provisions the roster, if any, and subscribes to store changes.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting rating service...")

	if len(s.roster) > 0 {
		if err := s.store.Provision(ctx, s.roster); err != nil {
			return fmt.Errorf("provision roster: %w", err)
		}
		s.logger.Info(ctx, "roster provisioned", logger.Int("staff", len(s.roster)))
	}

	// The subscription outlives the start context.
	s.sub = s.listener.Subscribe(context.WithoutCancel(ctx), s.onSnapshot, listener.WithSyncLost(s.onSyncLost))
	s.started = true

	s.logger.Info(ctx, "rating service started",
		logger.Int("renderers", len(s.renderers)),
		logger.Int("ledger", s.ledger.Size()),
	)
	return nil
}

// Stop cancels the subscription and closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	ctx := context.Background()
	s.logger.Info(ctx, "stopping rating service...")

	// Cancel waits for the delivery goroutine, which takes s.mu.
	if sub != nil {
		sub.Cancel()
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "closing store failed", logger.Error(err))
	}

	s.logger.Info(ctx, "rating service stopped")
}

// Vote casts a vote from this device.
func (s *Service) Vote(ctx context.Context, id string, value int) (vote.Receipt, error) {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return vote.Receipt{}, ErrNotStarted
	}
	return s.coordinator.Vote(ctx, id, value)
}

// Board returns the current frame. Voted flags reflect the ledger at call time.
func (s *Service) Board(ctx context.Context) Board {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.boardLocked(ctx)
}

// Leader returns the current leader or the placeholder.
func (s *Service) Leader(_ context.Context) LeaderView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return buildLeader(s.snapshot.Entities)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":  s.started,
		"status":   string(s.statusLocked()),
		"version":  s.snapshot.Version,
		"staff":    len(s.snapshot.Entities),
		"ledger":   s.ledger.Size(),
		"votes":    s.coordinator.Stats(),
		"backend":  fmt.Sprintf("%T", s.store),
		"rendered": s.updatedAt,
	}
	return stats
}

func (s *Service) onSnapshot(ctx context.Context, snap model.Snapshot) { //nolint:gocritic // hugeParam: listener callback signature
	s.mu.Lock()
	s.snapshot = snap
	s.received = true
	s.stale = false
	s.updatedAt = s.now()
	board := s.boardLocked(ctx)
	s.mu.Unlock()

	if board.Leader.Determined {
		metrics.UpdateLeader(board.Leader.Average, board.Leader.VoteCount)
	} else {
		metrics.UpdateLeader(0, 0)
	}
	s.render(ctx, board)
}

func (s *Service) onSyncLost(ctx context.Context, err error) {
	s.mu.Lock()
	s.stale = true
	board := s.boardLocked(ctx)
	s.mu.Unlock()

	s.logger.Warn(ctx, "showing last known board", logger.Error(err))
	s.render(ctx, board)
}

func (s *Service) render(ctx context.Context, board Board) { //nolint:gocritic // hugeParam: renderers take boards by value
	for _, r := range s.renderers {
		r.Render(ctx, board)
	}
}

// Must be called with s.mu held.
func (s *Service) boardLocked(ctx context.Context) Board {
	return buildBoard(s.snapshot, s.statusLocked(), s.updatedAt, func(id string) bool {
		return s.ledger.HasVoted(ctx, id)
	})
}

// Must be called with s.mu held.
func (s *Service) statusLocked() Status {
	switch {
	case !s.received:
		return StatusPending
	case s.stale:
		return StatusStale
	case s.snapshot.Empty():
		return StatusEmpty
	default:
		return StatusLive
	}
}
