package ledger

import "errors"

// Sentinel kinds for ledger errors.
var (
	ErrLoad    = errors.New("load vote ledger failed")
	ErrPersist = errors.New("persist vote ledger failed")
)
