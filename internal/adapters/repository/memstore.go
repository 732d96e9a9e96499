package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/staffrate/internal/domain/model"
	"github.com/okian/staffrate/pkg/metrics"
)

const memoryBackend = "memory"

// MemoryStore is an in-process Store. Every mutation is serialized by one
// mutex, so concurrent votes for the same entity never overwrite each other.
type MemoryStore struct {
	mu       sync.Mutex
	byID     map[string]*model.Entity
	version  uint64
	watchers map[chan model.Snapshot]chan struct{} // feed -> closed when dropped
	down     bool
	closed   bool

	watching sync.WaitGroup
}

// NewMemoryStore creates a store holding the given entities.
func NewMemoryStore(entities ...model.Entity) *MemoryStore {
	s := &MemoryStore{
		byID:     make(map[string]*model.Entity, len(entities)),
		watchers: make(map[chan model.Snapshot]chan struct{}),
	}
	for _, e := range entities {
		e := e
		s.byID[e.ID] = &e
	}
	return s
}

// ApplyVote increments the entity's counters under the store lock.
func (s *MemoryStore) ApplyVote(_ context.Context, id string, value int) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency(memoryBackend, "apply_vote", float64(time.Since(start).Microseconds())/1000)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down || s.closed {
		metrics.RecordStoreError(memoryBackend, "apply_vote")
		return fmt.Errorf("apply vote to %s: %w", id, ErrStoreUnavailable)
	}
	e, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	e.RatingSum += int64(value)
	e.VoteCount++
	s.commitLocked()
	return nil
}

// Snapshot returns a copy of the current state.
func (s *MemoryStore) Snapshot(_ context.Context) (model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down || s.closed {
		return model.Snapshot{}, fmt.Errorf("snapshot: %w", ErrStoreUnavailable)
	}
	return s.snapshotLocked(), nil
}

// Watch registers a subscriber that receives the current and every later snapshot.
func (s *MemoryStore) Watch(ctx context.Context) (<-chan model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down || s.closed {
		return nil, fmt.Errorf("watch: %w", ErrStoreUnavailable)
	}

	ch := make(chan model.Snapshot, 1)
	dropped := make(chan struct{})
	s.watchers[ch] = dropped
	offer(ch, s.snapshotLocked())

	s.watching.Add(1)
	go func() {
		defer s.watching.Done()
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.dropLocked(ch)
			s.mu.Unlock()
		case <-dropped:
		}
	}()
	return ch, nil
}

// Provision creates or refreshes entities without touching counters.
func (s *MemoryStore) Provision(_ context.Context, entities []model.Entity) error {
	if err := validateEntities(entities); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down || s.closed {
		return fmt.Errorf("provision: %w", ErrStoreUnavailable)
	}
	for _, in := range entities {
		if cur, ok := s.byID[in.ID]; ok {
			cur.Name, cur.PhotoRef, cur.Description = in.Name, in.PhotoRef, in.Description
			continue
		}
		e := model.Entity{ID: in.ID, Name: in.Name, PhotoRef: in.PhotoRef, Description: in.Description}
		s.byID[in.ID] = &e
	}
	s.commitLocked()
	return nil
}

// SetAvailable simulates a network partition: while unavailable every
// operation fails with ErrStoreUnavailable.
func (s *MemoryStore) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = !available
}

// Disconnect drops every active watch, as a lost real-time connection would.
func (s *MemoryStore) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.watchers {
		s.dropLocked(ch)
	}
}

// Close drops all watchers; later calls fail with ErrStoreUnavailable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for ch := range s.watchers {
		s.dropLocked(ch)
	}
	return nil
}

// Must be called with s.mu held.
func (s *MemoryStore) commitLocked() {
	s.version++
	if len(s.watchers) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for ch := range s.watchers {
		offer(ch, snap.Clone())
	}
}

// Must be called with s.mu held.
func (s *MemoryStore) dropLocked(ch chan model.Snapshot) {
	dropped, ok := s.watchers[ch]
	if !ok {
		return
	}
	delete(s.watchers, ch)
	close(ch)
	close(dropped)
}

// Must be called with s.mu held.
func (s *MemoryStore) snapshotLocked() model.Snapshot {
	entities := make([]model.Entity, 0, len(s.byID))
	for _, e := range s.byID {
		entities = append(entities, *e)
	}
	model.SortEntities(entities)
	return model.Snapshot{Version: s.version, Entities: entities}
}
