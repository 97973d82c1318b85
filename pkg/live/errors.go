package live

import "errors"

// Sentinel errors for the live session (C5), per the §7 error taxonomy.
var (
	ErrNoSession     = errors.New("live: no active session")
	ErrNoWorkers     = errors.New("live: pool has no workers")
	ErrSessionClosed = errors.New("live: session closed")
)
