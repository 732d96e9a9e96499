package listener

import "errors"

// ErrSyncLost is reported when the real-time connection to the store drops.
// The listener reconnects on its own; the error is informational.
var ErrSyncLost = errors.New("real-time sync lost")
