package service

import (
	"time"

	"github.com/okian/staffrate/internal/domain/leader"
	"github.com/okian/staffrate/internal/domain/model"
)

// Status is the sync state shown with the board.
type Status string

// Board states.
const (
	StatusPending Status = "pending" // no snapshot received yet
	StatusLive    Status = "live"    // in sync with the store
	StatusEmpty   Status = "empty"   // in sync; the store holds no staff
	StatusStale   Status = "stale"   // showing the last snapshot while sync is lost
)

// EntityView is one staff member as displayed.
type EntityView struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	PhotoRef    string  `json:"photo_ref,omitempty"`
	Description string  `json:"description,omitempty"`
	RatingSum   int64   `json:"rating_sum"`
	VoteCount   int64   `json:"vote_count"`
	Average     float64 `json:"average"`
	Rated       bool    `json:"rated"`
	StarsLit    int     `json:"stars_lit"`
	Voted       bool    `json:"voted"`
}

// LeaderView is the highlighted member, or the placeholder when nobody is rated.
type LeaderView struct {
	Determined  bool    `json:"determined"`
	ID          string  `json:"id,omitempty"`
	Name        string  `json:"name"`
	PhotoRef    string  `json:"photo_ref,omitempty"`
	Description string  `json:"description"`
	Average     float64 `json:"average,omitempty"`
	VoteCount   int64   `json:"vote_count,omitempty"`
}

// Board is everything a renderer needs for one frame.
type Board struct {
	Status    Status       `json:"status"`
	Version   uint64       `json:"version"`
	Entities  []EntityView `json:"entities"`
	Leader    LeaderView   `json:"leader"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func buildBoard(snap model.Snapshot, status Status, updatedAt time.Time, voted func(id string) bool) Board { //nolint:gocritic // hugeParam: snapshot is read-only here
	b := Board{
		Status:    status,
		Version:   snap.Version,
		Entities:  make([]EntityView, 0, len(snap.Entities)),
		Leader:    buildLeader(snap.Entities),
		UpdatedAt: updatedAt,
	}
	for _, e := range snap.Entities {
		avg, rated := e.Average()
		b.Entities = append(b.Entities, EntityView{
			ID:          e.ID,
			Name:        e.Name,
			PhotoRef:    e.PhotoRef,
			Description: e.Description,
			RatingSum:   e.RatingSum,
			VoteCount:   e.VoteCount,
			Average:     avg,
			Rated:       rated,
			StarsLit:    e.StarsLit(),
			Voted:       voted(e.ID),
		})
	}
	return b
}

func buildLeader(entities []model.Entity) LeaderView {
	top, ok := leader.Select(entities)
	if !ok {
		return LeaderView{
			Name:        leader.PlaceholderName,
			Description: leader.PlaceholderDescription,
		}
	}
	avg, _ := top.Average()
	return LeaderView{
		Determined:  true,
		ID:          top.ID,
		Name:        top.Name,
		PhotoRef:    top.PhotoRef,
		Description: leader.Caption(top),
		Average:     avg,
		VoteCount:   top.VoteCount,
	}
}
