package analysis_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/herohde/stockpool/pkg/analysis"
	"github.com/herohde/stockpool/pkg/pool"
	"github.com/herohde/stockpool/pkg/store"
	"github.com/herohde/stockpool/pkg/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyBoundaries(t *testing.T) {
	tests := []struct {
		cpLoss int
		want   analysis.Severity
	}{
		{0, analysis.SeverityExcellent},
		{10, analysis.SeverityExcellent},
		{11, analysis.SeverityGood},
		{49, analysis.SeverityGood},
		{50, analysis.SeverityInaccuracy},
		{149, analysis.SeverityInaccuracy},
		{150, analysis.SeverityMistake},
		{299, analysis.SeverityMistake},
		{300, analysis.SeverityBlunder},
		{1000, analysis.SeverityBlunder},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, analysis.Classify(tt.cpLoss), "cpLoss=%d", tt.cpLoss)
	}
}

func TestAccuracyBounds(t *testing.T) {
	assert.InDelta(t, 100, analysis.Accuracy(0), 0.01)
	assert.Less(t, analysis.Accuracy(50), analysis.Accuracy(0))
	assert.GreaterOrEqual(t, analysis.Accuracy(1000), 0.0)
}

func TestWinProbabilityMonotonic(t *testing.T) {
	assert.InDelta(t, 50, analysis.WinProbability(0), 0.01)
	assert.Greater(t, analysis.WinProbability(500), analysis.WinProbability(0))
	assert.Less(t, analysis.WinProbability(-500), analysis.WinProbability(0))
}

const scholarsMate = `[Event "Test"]

1. e4 e5 2. Bc4 Nc6 3. Qh5 Nf6 4. Qxf7# 1-0`

// fakeEngine writes a shell-script "engine" that always answers with the same best move
// (e2e4/d2d4 from the starting rank), regardless of the position it is given -- enough to
// exercise the analyzer's plumbing (S1: every ply gets a row, classified from cpLoss) without
// needing a real Stockfish binary.
func fakeEngine(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "engine.sh")
	script := `#!/bin/sh
while IFS= read -r line; do
  case "$line" in
    uci) echo "uciok" ;;
    isready) echo "readyok" ;;
    go*)
      echo "info depth 1 multipv 1 score cp 20 pv e2e4"
      echo "info depth 1 multipv 2 score cp 5 pv d2d4"
      echo "bestmove e2e4"
      ;;
    stop)
      echo "bestmove e2e4"
      ;;
    quit) exit 0 ;;
  esac
done
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestAnalyzeGameProducesOneRowPerPly(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	p, err := pool.New(ctx, pool.Config{EnginePath: fakeEngine(t), PoolSize: 2, ReservedForLive: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	mem := memstore.New()
	gameID := mem.PutGame(store.GameRow{PGN: scholarsMate})

	a := analysis.New(p, mem)
	result, err := a.AnalyzeGame(ctx, gameID, analysis.Options{Depth: 1})
	require.NoError(t, err)

	require.Len(t, result.Rows, 7)
	for i, row := range result.Rows {
		assert.Equal(t, i+1, row.MoveNumber)
		assert.GreaterOrEqual(t, row.CentipawnLoss, 0)
		assert.GreaterOrEqual(t, row.WinProbabilityLoss, 0.0)
	}

	// Every engine bestmove is e2e4 -- the only ply where the player actually played e2e4
	// matches line 1 directly; every other ply falls through to the follow-up path (S2).
	assert.Equal(t, "e4", result.Rows[0].PlayerMove)

	stored, err := mem.FindAnalysisByGameID(ctx, gameID)
	require.NoError(t, err)
	assert.Len(t, stored, 7)
}

func TestAnalyzeGameRejectsConcurrentRuns(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	p, err := pool.New(ctx, pool.Config{EnginePath: fakeEngine(t), PoolSize: 2, ReservedForLive: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	mem := memstore.New()
	gameID := mem.PutGame(store.GameRow{PGN: scholarsMate})

	a := analysis.New(p, mem)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = a.AnalyzeGame(ctx, gameID, analysis.Options{Depth: 1})
	}()

	// Poll briefly for the first run to register itself before firing the second.
	for i := 0; i < 100 && !a.IsAnalyzing(gameID); i++ {
		time.Sleep(time.Millisecond)
	}

	_, err = a.AnalyzeGame(ctx, gameID, analysis.Options{Depth: 1})
	assert.ErrorIs(t, err, analysis.ErrAlreadyAnalyzing)

	<-done
	assert.False(t, a.IsAnalyzing(gameID))
}

func TestAnalyzeGameIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	p, err := pool.New(ctx, pool.Config{EnginePath: fakeEngine(t), PoolSize: 2, ReservedForLive: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	mem := memstore.New()
	gameID := mem.PutGame(store.GameRow{PGN: scholarsMate})

	a := analysis.New(p, mem)

	_, err = a.AnalyzeGame(ctx, gameID, analysis.Options{Depth: 1})
	require.NoError(t, err)
	_, err = a.AnalyzeGame(ctx, gameID, analysis.Options{Depth: 1})
	require.NoError(t, err)

	stored, err := mem.FindAnalysisByGameID(ctx, gameID)
	require.NoError(t, err)
	assert.Len(t, stored, 7, "re-analysis must not duplicate rows")
}
