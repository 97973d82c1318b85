package live_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/herohde/stockpool/pkg/live"
	"github.com/herohde/stockpool/pkg/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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
      echo "info depth 1 multipv 1 score cp 15 pv e2e4"
      echo "bestmove e2e4"
      ;;
    stop) echo "bestmove e2e4" ;;
    quit) exit 0 ;;
  esac
done
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestManager(t *testing.T) *live.Manager {
	t.Helper()

	ctx := context.Background()
	p, err := pool.New(ctx, pool.Config{EnginePath: fakeEngine(t), PoolSize: 2, ReservedForLive: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	return live.NewManager(p, time.Hour, time.Hour)
}

func TestCreateSessionReplacesPrevious(t *testing.T) {
	m := newTestManager(t)

	events1, _, err := m.CreateSession(context.Background(), "s1")
	require.NoError(t, err)
	assertNextEvent(t, events1, live.EventEngineStatus)

	events2, _, err := m.CreateSession(context.Background(), "s2")
	require.NoError(t, err)

	// s1's subscription should see session_closed before its channel is closed.
	assertNextEvent(t, events1, live.EventSessionClosed)
	assertNextEvent(t, events2, live.EventEngineStatus)
}

func TestAnalyzePositionLifecycle(t *testing.T) {
	m := newTestManager(t)

	events, _, err := m.CreateSession(context.Background(), "s1")
	require.NoError(t, err)
	assertNextEvent(t, events, live.EventEngineStatus)

	err = m.AnalyzePosition(context.Background(), "s1", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", live.Settings{Depth: 1})
	require.NoError(t, err)

	ev := assertNextEvent(t, events, live.EventAnalysisStarted)
	assert.NotEmpty(t, ev.FEN)

	assertNextEvent(t, events, live.EventAnalysisComplete)
}

func TestAnalyzePositionRejectsInvalidFEN(t *testing.T) {
	m := newTestManager(t)

	_, _, err := m.CreateSession(context.Background(), "s1")
	require.NoError(t, err)

	err = m.AnalyzePosition(context.Background(), "s1", "not a fen", live.Settings{})
	assert.Error(t, err)
}

func TestAnalyzePositionWithoutSessionFails(t *testing.T) {
	m := newTestManager(t)

	err := m.AnalyzePosition(context.Background(), "missing", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", live.Settings{})
	assert.ErrorIs(t, err, live.ErrNoSession)
}

func assertNextEvent(t *testing.T, ch <-chan live.Event, want live.EventType) live.Event {
	t.Helper()
	select {
	case ev := <-ch:
		require.Equal(t, want, ev.Type)
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for event %v", want)
		return live.Event{}
	}
}
