package uci

import "errors"

// Sentinel errors for the UCI worker, per the error taxonomy: origin and propagation are
// documented at the call sites that produce them, not here.
var (
	ErrEngineInitTimeout       = errors.New("uci: engine init timeout")
	ErrEngineStartFailed       = errors.New("uci: engine start failed")
	ErrEngineClosedUnexpectedly = errors.New("uci: engine closed unexpectedly")
	ErrEngineNotReady          = errors.New("uci: engine not ready")
	ErrEngineShuttingDown      = errors.New("uci: engine shutting down")
	ErrNoLegalMoves            = errors.New("uci: no legal moves")
)
