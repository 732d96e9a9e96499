// Package vote validates and applies a single device's votes.
package vote

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/staffrate/internal/domain/model"
	"github.com/okian/staffrate/pkg/logger"
	"github.com/okian/staffrate/pkg/metrics"
)

// Ledger is the device-local record of votes already cast.
type Ledger interface {
	HasVoted(ctx context.Context, id string) bool
	RecordVote(ctx context.Context, id string) error
}

// Store applies the shared increment.
type Store interface {
	ApplyVote(ctx context.Context, id string, value int) error
}

// Receipt describes an accepted vote.
type Receipt struct {
	ID       uuid.UUID `json:"id"`
	EntityID string    `json:"staff_id"`
	Value    int       `json:"value"`
	At       time.Time `json:"at"`
}

// Stats counts outcomes since the coordinator was created.
type Stats struct {
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
	Failed   int64 `json:"failed"`
	InFlight int   `json:"in_flight"`
}

// Coordinator runs the ledger check, the store increment and the ledger update
// for one device.
type Coordinator struct {
	ledger Ledger
	store  Store
	logger logger.Logger
	now    func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}

	accepted atomic.Int64
	rejected atomic.Int64
	failed   atomic.Int64
}

// NewCoordinator creates a coordinator over the given ledger and store.
func NewCoordinator(ledger Ledger, store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:   ledger,
		store:    store,
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Named("vote")
	}
	return c
}

// Vote casts value for the entity id.
//
// The ledger is consulted before and updated only after a confirmed store
// increment, so a failed store call leaves the device free to retry. A ledger
// write failure after a successful increment is logged and the vote stands.
func (c *Coordinator) Vote(ctx context.Context, id string, value int) (Receipt, error) {
	start := time.Now()
	defer func() {
		metrics.RecordVoteLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if !model.ValidRating(value) {
		return Receipt{}, c.reject(ctx, id, "invalid_value", ErrInvalidValue)
	}
	if c.ledger.HasVoted(ctx, id) {
		return Receipt{}, c.reject(ctx, id, "already_voted", ErrAlreadyVoted)
	}
	if !c.claim(id) {
		return Receipt{}, c.reject(ctx, id, "pending", ErrVotePending)
	}
	defer c.release(id)

	// A vote that finished between the first check and the claim.
	if c.ledger.HasVoted(ctx, id) {
		return Receipt{}, c.reject(ctx, id, "already_voted", ErrAlreadyVoted)
	}

	if err := c.store.ApplyVote(ctx, id, value); err != nil {
		c.failed.Add(1)
		metrics.RecordVoteRejected("store_failed")
		metrics.RecordErrorByComponent("vote", "store_failed")
		c.logger.Error(ctx, "vote not counted",
			logger.String("id", id),
			logger.Int("value", value),
			logger.Error(err),
		)
		return Receipt{}, fmt.Errorf("%w: %w", ErrVoteFailed, err)
	}

	if err := c.ledger.RecordVote(ctx, id); err != nil {
		metrics.RecordErrorByComponent("vote", "ledger_persist")
		c.logger.Warn(ctx, "vote counted but ledger not saved",
			logger.String("id", id),
			logger.Error(err),
		)
	}

	c.accepted.Add(1)
	metrics.RecordVoteAccepted(strconv.Itoa(value))

	receipt := Receipt{ID: uuid.New(), EntityID: id, Value: value, At: c.now()}
	c.logger.Info(ctx, "vote accepted",
		logger.String("vote_id", receipt.ID.String()),
		logger.String("id", id),
		logger.Int("value", value),
	)
	return receipt, nil
}

// Pending reports whether a vote for id is in flight.
func (c *Coordinator) Pending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[id]
	return ok
}

// Stats returns outcome counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	inFlight := len(c.inFlight)
	c.mu.Unlock()
	return Stats{
		Accepted: c.accepted.Load(),
		Rejected: c.rejected.Load(),
		Failed:   c.failed.Load(),
		InFlight: inFlight,
	}
}

func (c *Coordinator) claim(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inFlight[id]; ok {
		return false
	}
	c.inFlight[id] = struct{}{}
	return true
}

func (c *Coordinator) release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, id)
}

func (c *Coordinator) reject(ctx context.Context, id, reason string, err error) error {
	c.rejected.Add(1)
	metrics.RecordVoteRejected(reason)
	c.logger.Debug(ctx, "vote rejected", logger.String("id", id), logger.String("reason", reason))
	return err
}
