// Package ledger keeps the per-device record of staff members already voted for.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/okian/staffrate/pkg/metrics"
)

// Persister moves the ledger across the process boundary. The list is stored
// and reloaded verbatim.
type Persister interface {
	Load(ctx context.Context) ([]string, error)
	Save(ctx context.Context, ids []string) error
}

// Ledger is the set of entity ids this device has voted for. It only grows.
type Ledger struct {
	mu        sync.RWMutex
	voted     map[string]struct{}
	persister Persister
}

// Open loads the persisted ledger. A nil persister keeps the ledger in memory only.
func Open(ctx context.Context, persister Persister, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		voted:     make(map[string]struct{}),
		persister: persister,
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.persister == nil {
		l.persister = NewMemoryPersister()
	}

	ids, err := l.persister.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	for _, id := range ids {
		l.voted[id] = struct{}{}
	}
	metrics.UpdateLedgerSize(len(l.voted))

	return l, nil
}

// HasVoted reports whether id is present in the ledger.
func (l *Ledger) HasVoted(_ context.Context, id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.voted[id]
	return ok
}

// RecordVote adds id and persists the ledger before returning.
//
// The in-memory set keeps the id even when the write fails; the returned error
// wraps ErrPersist and only means the vote may be forgotten after a restart.
func (l *Ledger) RecordVote(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.voted[id]; ok {
		return nil
	}
	l.voted[id] = struct{}{}
	metrics.UpdateLedgerSize(len(l.voted))

	if err := l.persister.Save(ctx, l.sortedLocked()); err != nil {
		metrics.RecordLedgerPersistError()
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// IDs returns the recorded ids in ascending order.
func (l *Ledger) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sortedLocked()
}

// Size returns the number of recorded ids.
func (l *Ledger) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.voted)
}

// Must be called with l.mu held.
func (l *Ledger) sortedLocked() []string {
	ids := make([]string, 0, len(l.voted))
	for id := range l.voted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
