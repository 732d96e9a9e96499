package vote

import "errors"

// Vote rejection kinds. Match with errors.Is.
var (
	// ErrInvalidValue rejects values outside [1,5]. Nothing was changed.
	ErrInvalidValue = errors.New("rating must be between 1 and 5")
	// ErrAlreadyVoted means this device already voted for the entity.
	ErrAlreadyVoted = errors.New("already voted for this staff member")
	// ErrVotePending means a vote for the same entity is still in flight.
	ErrVotePending = errors.New("vote already in progress")
	// ErrVoteFailed wraps the store error; the vote was not counted and can be retried.
	ErrVoteFailed = errors.New("vote could not be recorded")
)
