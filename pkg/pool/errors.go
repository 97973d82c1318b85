package pool

import "errors"

// Sentinel errors for the worker pool, mirroring the §7 error taxonomy entries owned by C3.
var (
	ErrQueueFull        = errors.New("pool: queue full")
	ErrPoolShuttingDown = errors.New("pool: shutting down")
	ErrNoWorkers        = errors.New("pool: no workers available")
)
