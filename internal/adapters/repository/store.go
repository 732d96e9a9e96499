// Package repository holds the shared rating store and its backends.
package repository

import (
	"context"

	"github.com/okian/staffrate/internal/domain/model"
)

// Store is the authoritative mapping from staff id to aggregate rating.
type Store interface {
	// ApplyVote adds value to the entity's rating sum and one to its vote count
	// as a single indivisible operation. Returns ErrNotFound for unknown ids and
	// an error wrapping ErrStoreUnavailable when the write was not confirmed.
	ApplyVote(ctx context.Context, id string, value int) error

	// Snapshot returns the full, self-consistent state ordered by id ascending.
	Snapshot(ctx context.Context) (model.Snapshot, error)

	// Watch emits the current snapshot right away and again after every
	// committed change. A slow reader only sees the latest snapshot. The channel
	// is closed when ctx ends or the connection drops.
	Watch(ctx context.Context) (<-chan model.Snapshot, error)

	// Provision creates missing entities with zero counters and refreshes the
	// metadata of existing ones. Counters are never reset.
	Provision(ctx context.Context, entities []model.Entity) error

	// Close releases backend resources.
	Close() error
}

// offer hands s to a single-slot mailbox, replacing an unread older snapshot.
// Callers must be the only sender on ch.
func offer(ch chan model.Snapshot, s model.Snapshot) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func validateEntities(entities []model.Entity) error {
	for _, e := range entities {
		if e.ID == "" {
			return ErrInvalidEntity
		}
	}
	return nil
}
