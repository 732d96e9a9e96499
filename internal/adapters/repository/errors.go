package repository

import "errors"

// Sentinel kinds for rating store errors.
var (
	// ErrNotFound means the vote targeted an entity the store does not hold.
	ErrNotFound = errors.New("staff member not found")
	// ErrStoreUnavailable means the write could not be confirmed; the vote must
	// not be assumed counted.
	ErrStoreUnavailable = errors.New("rating store unavailable")
	// ErrInvalidEntity rejects provisioning input without an id.
	ErrInvalidEntity = errors.New("invalid staff member")
)
