// Package store defines the persistence contract used by the game analyzer (C4): reading a
// game's PGN and writing/reading/clearing its per-ply analysis rows. memstore and pgstore
// provide two implementations selected at startup by whether DATABASE_URL is configured.
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors, per the §7 error taxonomy.
var (
	ErrGameNotFound = errors.New("store: game not found")
)

// GameRow is the minimal shape of a stored game this core needs: its PGN text. Callers that
// also need metadata (players, result, timestamps) own that outside this contract.
type GameRow struct {
	ID  string
	PGN string
}

// Row is one persisted per-ply analysis row (§3 "Per-ply analysis row"). It lives in this
// package, rather than in pkg/analysis, so that both the analyzer (which produces rows) and the
// store implementations (which persist them) can depend on it without an import cycle.
type Row struct {
	GameID              string
	MoveNumber          int // 1-based ply
	PlayerMove          string
	PositionFEN         string
	BestMove            string
	BestLine            string
	StockfishEvaluation int // centipawns, White-relative
	AnalysisDepth       int
	MistakeSeverity     string
	CentipawnLoss       int     // mover-relative, non-negative
	WinProbabilityLoss  float64 // mover-relative, non-negative, 0-100
	CreatedAt           time.Time
}

// Store is the persistence contract the analyzer depends on (§4.3 phase 3, §6 persistence
// contract).
type Store interface {
	GetGame(ctx context.Context, gameID string) (GameRow, error)

	// ReplaceAnalysis atomically discards any previously persisted rows for gameID and inserts
	// rows in their place, as a single all-or-nothing unit (§8 invariant: re-analysis of a game
	// is idempotent, and a failed insert must never leave a game's analysis partially deleted).
	// rows belong to a single game; safe to call when no prior rows exist.
	ReplaceAnalysis(ctx context.Context, gameID string, rows []Row) error

	FindAnalysisByGameID(ctx context.Context, gameID string) ([]Row, error)
}
