package analysis

import (
	"github.com/herohde/stockpool/pkg/store"
	"github.com/seekerror/stdlib/pkg/lang"
)

// Mistakes tallies severities across a game (§4.3 phase 3 aggregate).
type Mistakes struct {
	Blunders, Mistakes, Inaccuracies int
}

// SideAccuracy is the per-side (or overall) aggregate accuracy figure.
type SideAccuracy struct {
	Plies      int
	AverageWCL float64
	Accuracy   float64
}

// Result is the full outcome of one game analysis run.
type Result struct {
	GameID   string
	Rows     []store.Row // strictly sorted by MoveNumber ascending (§8 invariant 4)
	Mistakes Mistakes
	White    SideAccuracy
	Black    SideAccuracy
	Overall  SideAccuracy
}

// Progress is emitted after each completed ply (§4.3 "Progress").
type Progress struct {
	Current    int
	Total      int
	Percentage float64
	Status     string // "analyzing" | "complete" | "error"
	Message    string
}

// Options configures one AnalyzeGame call (§4.3 inputs).
type Options struct {
	Depth            int
	SkipOpeningPlies int
	MaxPositions     lang.Optional[int]

	// Progress, if non-nil, is sent a Progress update after every completed ply (§9
	// callback-to-channel redesign). Sends are non-blocking: an update is skipped when the
	// channel is not ready to receive. The caller owns the channel and may drop it.
	Progress chan<- Progress
}

func (o Options) withDefaults() Options {
	if o.Depth == 0 {
		o.Depth = 15
	}
	return o
}
