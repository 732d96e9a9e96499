// Package model contains domain models passed between layers.
package model

import (
	"math"
	"sort"
	"strconv"
)

// Accepted vote values.
const (
	MinRating = 1
	MaxRating = 5
)

// ValidRating reports whether v is an acceptable vote value.
func ValidRating(v int) bool {
	return v >= MinRating && v <= MaxRating
}

// Entity is a rateable staff member with its cumulative rating state.
type Entity struct {
	ID          string // stable, never reused
	Name        string
	PhotoRef    string
	Description string
	RatingSum   int64 // sum of accepted vote values
	VoteCount   int64 // number of accepted votes
}

// Average returns RatingSum/VoteCount. ok is false when nobody voted yet.
func (e Entity) Average() (avg float64, ok bool) {
	if e.VoteCount <= 0 {
		return 0, false
	}
	return float64(e.RatingSum) / float64(e.VoteCount), true
}

// Consistent reports whether the counters can be the sum of VoteCount values in [1,5].
func (e Entity) Consistent() bool {
	if e.RatingSum < 0 || e.VoteCount < 0 {
		return false
	}
	return e.VoteCount*MinRating <= e.RatingSum && e.RatingSum <= e.VoteCount*MaxRating
}

// StarsLit is the number of highlighted stars for the entity's average.
func (e Entity) StarsLit() int {
	avg, ok := e.Average()
	if !ok {
		return 0
	}
	return int(math.Round(avg))
}

// Snapshot is the full state of the rating store at one commit.
type Snapshot struct {
	Version  uint64   // store commit counter; grows with every committed change
	Entities []Entity // ordered by id ascending
}

// Empty reports whether the store holds no entities.
func (s Snapshot) Empty() bool { return len(s.Entities) == 0 }

// Find returns the entity with the given id.
func (s Snapshot) Find(id string) (Entity, bool) {
	for _, e := range s.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return Entity{}, false
}

// Clone returns a deep copy so callers can't alias store state.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Version: s.Version, Entities: make([]Entity, len(s.Entities))}
	copy(out.Entities, s.Entities)
	return out
}

// LessID orders ids ascending. Ids that are both integers compare numerically,
// otherwise lexically; integers sort before non-integers.
func LessID(a, b string) bool {
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		if ai != bi {
			return ai < bi
		}
		return a < b
	case aErr == nil:
		return true
	case bErr == nil:
		return false
	default:
		return a < b
	}
}

// SortEntities orders entities by id ascending in place.
func SortEntities(entities []Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		return LessID(entities[i].ID, entities[j].ID)
	})
}
