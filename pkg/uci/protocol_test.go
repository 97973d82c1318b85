package uci

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMate(t *testing.T) {
	tests := []struct {
		plies    int
		expected int
	}{
		{1, 10000 + 100*99},
		{-1, -(10000 + 100*99)},
		{100, 10000},
		{-100, -10000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, EncodeMate(tt.plies))
	}
}

func TestMergeInfoLine(t *testing.T) {
	lines := map[int]*LineState{}

	mergeInfoLine(lines, "info depth 10 seldepth 14 multipv 1 score cp 34 nodes 12345 nps 500000 time 25 pv e2e4 e7e5 g1f3")
	mergeInfoLine(lines, "info depth 10 multipv 2 score cp 12 nodes 9000 nps 400000 time 25 pv d2d4 d7d5")

	require.Len(t, lines, 2)
	assert.Equal(t, 34, lines[1].ScoreCP)
	assert.Equal(t, []string{"e2e4", "e7e5", "g1f3"}, lines[1].PV)
	assert.Equal(t, 12, lines[2].ScoreCP)

	// Lower-depth update for an index already seen at higher depth must be ignored.
	mergeInfoLine(lines, "info depth 8 multipv 1 score cp 999 pv a2a3")
	assert.Equal(t, 34, lines[1].ScoreCP)
	assert.Equal(t, 10, lines[1].Depth)

	// A higher-depth update replaces it.
	mergeInfoLine(lines, "info depth 12 multipv 1 score cp 40 pv e2e4 e7e5 g1f3 b8c6")
	assert.Equal(t, 40, lines[1].ScoreCP)
	assert.Equal(t, 12, lines[1].Depth)

	// Mate scores encode to the sentinel.
	mergeInfoLine(lines, "info depth 12 multipv 3 score mate 2 pv h5f7")
	require.Contains(t, lines, 3)
	assert.True(t, lines[3].Mate)
	assert.Equal(t, EncodeMate(2), lines[3].ScoreCP)

	// Lines lacking both depth and score/pv are not merged.
	mergeInfoLine(lines, "info currmove e2e4 currmovenumber 1")
	assert.Len(t, lines, 3)
}

func TestSnapshotSortedByMultiPVIndex(t *testing.T) {
	lines := map[int]*LineState{
		3: {MultiPVIndex: 3, Depth: 10, ScoreCP: -5, PV: []string{"a2a3"}},
		1: {MultiPVIndex: 1, Depth: 10, ScoreCP: 40, PV: []string{"e2e4", "e7e5"}},
		2: {MultiPVIndex: 2, Depth: 10, ScoreCP: 12, PV: []string{"d2d4"}},
	}

	snap := snapshot(lines)
	require.Len(t, snap, 3)
	assert.Equal(t, 1, snap[0].MultiPVIndex)
	assert.Equal(t, 2, snap[1].MultiPVIndex)
	assert.Equal(t, 3, snap[2].MultiPVIndex)
	assert.Equal(t, "e2e4", snap[0].BestMove)

	// Returned slice must not alias the caller's map entries.
	snap[0].PV[0] = "mutated"
	assert.Equal(t, "e2e4", lines[1].PV[0])
}

func TestParseBestMove(t *testing.T) {
	move, ponder, ok := parseBestMove("bestmove e2e4 ponder e7e5")
	require.True(t, ok)
	assert.Equal(t, "e2e4", move)
	assert.Equal(t, "e7e5", ponder)

	move, ponder, ok = parseBestMove("bestmove g7g8q")
	require.True(t, ok)
	assert.Equal(t, "g7g8q", move)
	assert.Empty(t, ponder)

	move, _, ok = parseBestMove("bestmove (none)")
	require.True(t, ok)
	assert.Equal(t, "(none)", move)

	_, _, ok = parseBestMove("info depth 1")
	assert.False(t, ok)
}
