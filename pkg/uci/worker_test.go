package uci_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/herohde/stockpool/pkg/uci"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFakeEngine writes a tiny shell-script "engine" that speaks just enough UCI to drive the
// worker through boot and one analysis, playing back scripted info/bestmove lines. This plays
// the same role the mock engine does in the spec's scenarios S1-S6.
func newFakeEngine(t *testing.T, script string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "fake-engine.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

const fakeEngineScript = `#!/bin/sh
while IFS= read -r line; do
  case "$line" in
    uci) echo "id name fake"; echo "uciok" ;;
    isready) echo "readyok" ;;
    go*)
      echo "info depth 5 multipv 1 score cp 34 nodes 1000 nps 100000 time 10 pv e2e4 e7e5"
      echo "bestmove e2e4 ponder e7e5"
      ;;
    quit) exit 0 ;;
  esac
done
`

func TestWorkerBootAndAnalyze(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w := uci.New("w1", uci.Options{Path: newFakeEngine(t, fakeEngineScript)})
	require.NoError(t, w.Start(ctx))
	assert.Equal(t, uci.StatusIdle, w.Status())

	result, err := w.Analyze(ctx, "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", uci.AnalyzeOptions{Depth: 5, MultiPV: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, "e2e4", result.BestMove)
	assert.Equal(t, "e7e5", result.PonderMove)
	require.Len(t, result.Lines, 1)
	assert.Equal(t, 34, result.Lines[0].Evaluation)
	assert.Equal(t, uci.StatusIdle, w.Status())

	completed, failed := w.Stats()
	assert.EqualValues(t, 1, completed)
	assert.EqualValues(t, 0, failed)

	require.NoError(t, w.Shutdown(ctx))
}

func TestWorkerNoLegalMoves(t *testing.T) {
	script := `#!/bin/sh
while IFS= read -r line; do
  case "$line" in
    uci) echo "uciok" ;;
    isready) echo "readyok" ;;
    go*) echo "bestmove (none)" ;;
    quit) exit 0 ;;
  esac
done
`
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w := uci.New("w2", uci.Options{Path: newFakeEngine(t, script)})
	require.NoError(t, w.Start(ctx))

	_, err := w.Analyze(ctx, "8/8/8/8/8/8/8/8 w - - 0 1", uci.AnalyzeOptions{Depth: 5}, nil)
	assert.ErrorIs(t, err, uci.ErrNoLegalMoves)

	require.NoError(t, w.Shutdown(ctx))
}
