// Package uci drives a UCI-speaking engine subprocess (e.g. Stockfish) as a client: it spawns
// the binary, writes commands to its stdin, and parses the line-oriented responses on its
// stdout. This is the opposite direction of a UCI *engine* implementation -- here we are the
// GUI side, not the engine side.
//
// See: http://wbec-ridderkerk.nl/html/UCIProtocol.html
package uci

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MateSentinelBase is the centipawn sentinel base for mate scores, per the mate encoding
// convention: ±(MateSentinelBase + 100·(100 − |matePlies|)).
const MateSentinelBase = 10000

// EncodeMate converts a "mate in n plies" value (n may be negative: side-to-move is getting
// mated) to a sentinel centipawn score. Sign matches the side winning the mate.
func EncodeMate(matePlies int) int {
	n := matePlies
	sign := 1
	if n < 0 {
		sign = -1
		n = -n
	}
	return sign * (MateSentinelBase + 100*(100-n))
}

// LineState is the accumulating parse state for one MultiPV index of an in-progress search.
// Fields are populated incrementally from successive "info" lines; the highest depth seen for
// an index wins.
type LineState struct {
	MultiPVIndex int
	Depth        int
	SelDepth     int
	ScoreCP      int  // always populated: raw cp score, or the mate sentinel if Mate is set
	Mate         bool // true if ScoreCP was derived from "score mate n"
	MatePlies    int  // only meaningful if Mate
	Nodes        uint64
	NPS          uint64
	TimeMillis   int
	PV           []string // UCI long-algebraic moves
}

// PVLine is a materialized, immutable principal-variation line as returned to callers.
type PVLine struct {
	MultiPVIndex int
	Evaluation   int // centipawns, side-to-move-relative, mate-sentinel-encoded if decisive
	IsMate       bool
	MatePlies    int
	Depth        int
	Nodes        uint64
	NPS          uint64
	BestMove     string
	PV           []string
}

// Result is the resolved outcome of one analysis task: the sorted PV lines (index 1 first),
// the engine's chosen best move (and optional ponder move), and the achieved depth.
type Result struct {
	Lines      []PVLine
	BestMove   string
	PonderMove string
	Depth      int
}

// snapshot materializes the currently-known lines, sorted by MultiPVIndex ascending. It is a
// copy: callers (streaming progress consumers) must not observe mutations of the live map.
func snapshot(lines map[int]*LineState) []PVLine {
	ret := make([]PVLine, 0, len(lines))
	for _, l := range lines {
		ret = append(ret, PVLine{
			MultiPVIndex: l.MultiPVIndex,
			Evaluation:   l.ScoreCP,
			IsMate:       l.Mate,
			MatePlies:    l.MatePlies,
			Depth:        l.Depth,
			Nodes:        l.Nodes,
			NPS:          l.NPS,
			BestMove:     firstMove(l.PV),
			PV:           append([]string(nil), l.PV...),
		})
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].MultiPVIndex < ret[j].MultiPVIndex })
	return ret
}

func firstMove(pv []string) string {
	if len(pv) == 0 {
		return ""
	}
	return pv[0]
}

// mergeInfoLine parses one "info ..." line and, if it carries enough fields to be useful (per
// §4.1's parsing contract: depth and multipv, and either score or pv), merges it into lines,
// keyed by multipv index, keeping the higher-depth state on conflict. Lines lacking multipv are
// treated as index 1 (single-PV mode engines omit it).
func mergeInfoLine(lines map[int]*LineState, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != "info" {
		return
	}

	idx := 1
	var depth int
	haveDepth := false
	var scoreCP int
	mate := false
	var matePlies int
	haveScore := false
	var nodes, nps uint64
	var timeMillis int
	var pv []string

	for i := 1; i < len(fields); i++ {
		switch fields[i] {
		case "depth":
			if v, ok := atoiAt(fields, i+1); ok {
				depth, haveDepth = v, true
				i++
			}
		case "multipv":
			if v, ok := atoiAt(fields, i+1); ok {
				idx = v
				i++
			}
		case "nodes":
			if v, ok := atoiAt(fields, i+1); ok {
				nodes = uint64(v)
				i++
			}
		case "nps":
			if v, ok := atoiAt(fields, i+1); ok {
				nps = uint64(v)
				i++
			}
		case "time":
			if v, ok := atoiAt(fields, i+1); ok {
				timeMillis = v
				i++
			}
		case "score":
			if i+1 < len(fields) {
				switch fields[i+1] {
				case "cp":
					if v, ok := atoiAt(fields, i+2); ok {
						scoreCP = v
						haveScore = true
						i += 2
					}
				case "mate":
					if v, ok := atoiAt(fields, i+2); ok {
						mate = true
						matePlies = v
						scoreCP = EncodeMate(v)
						haveScore = true
						i += 2
					}
				}
			}
		case "pv":
			pv = append([]string(nil), fields[i+1:]...)
			i = len(fields) // pv runs to end of line
		}
	}

	if !haveDepth || (!haveScore && len(pv) == 0) {
		return
	}

	cur, ok := lines[idx]
	if !ok {
		cur = &LineState{MultiPVIndex: idx}
		lines[idx] = cur
	}
	if ok && cur.Depth > depth {
		// A lower-depth line for an index we've already seen at higher depth is stale; ignore.
		return
	}

	cur.Depth = depth
	if haveScore {
		cur.ScoreCP = scoreCP
		cur.Mate = mate
		cur.MatePlies = matePlies
	}
	if nodes > 0 {
		cur.Nodes = nodes
	}
	if nps > 0 {
		cur.NPS = nps
	}
	if timeMillis > 0 {
		cur.TimeMillis = timeMillis
	}
	if len(pv) > 0 {
		cur.PV = pv
	}
}

func atoiAt(fields []string, i int) (int, bool) {
	if i >= len(fields) {
		return 0, false
	}
	v, err := strconv.Atoi(fields[i])
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseBestMove parses a "bestmove <uci> [ponder <uci>]" line. Returns ok=false if the line is
// not a bestmove line at all; move == "(none)" signals no legal moves (caller maps to
// ErrNoLegalMoves).
func parseBestMove(line string) (move, ponder string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "bestmove" {
		return "", "", false
	}
	move = fields[1]
	if len(fields) >= 4 && fields[2] == "ponder" {
		ponder = fields[3]
	}
	return move, ponder, true
}

// formatSetOption renders a "setoption name <N> value <V>" command.
func formatSetOption(name string, value interface{}) string {
	return fmt.Sprintf("setoption name %v value %v", name, value)
}
