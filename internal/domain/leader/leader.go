// Package leader picks the single top-rated staff member from a snapshot.
package leader

import (
	"fmt"

	"github.com/okian/staffrate/internal/domain/model"
)

// Placeholder texts shown while no leader can be determined.
const (
	PlaceholderName        = "To be determined"
	PlaceholderDescription = "The best rated member will appear here."
)

// Select returns the entity with the highest average rating.
//
// Only entities with at least one vote are eligible. Ties on the average go to
// the entity with more votes; a remaining tie keeps the first entity in
// slice order, so callers must pass entities sorted by id ascending.
// ok is false when no entity is eligible.
func Select(entities []model.Entity) (best model.Entity, ok bool) {
	for _, e := range entities {
		if e.VoteCount <= 0 {
			continue
		}
		if !ok || ranksAbove(e, best) {
			best, ok = e, true
		}
	}
	return best, ok
}

// ranksAbove reports whether a strictly beats b. Averages are compared by
// cross-multiplication so equal ratios tie exactly.
func ranksAbove(a, b model.Entity) bool {
	lhs := a.RatingSum * b.VoteCount
	rhs := b.RatingSum * a.VoteCount
	if lhs != rhs {
		return lhs > rhs
	}
	return a.VoteCount > b.VoteCount
}

// Caption describes the leader's standing, e.g. "average of 4.5 stars across 12 ratings".
func Caption(e model.Entity) string {
	avg, ok := e.Average()
	if !ok {
		return PlaceholderDescription
	}
	noun := "ratings"
	if e.VoteCount == 1 {
		noun = "rating"
	}
	return fmt.Sprintf("Congratulations! An average of %.1f stars across %d %s.", avg, e.VoteCount, noun)
}
