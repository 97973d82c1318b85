package pool_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/herohde/stockpool/pkg/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine writes a shell-script "engine" that answers uci/isready immediately and, on "go",
// sleeps for delay before responding with bestmove -- long enough to exercise priority and
// timeout behavior deterministically.
func fakeEngine(t *testing.T, delay time.Duration) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "engine.sh")
	script := `#!/bin/sh
while IFS= read -r line; do
  case "$line" in
    uci) echo "uciok" ;;
    isready) echo "readyok" ;;
    go*)
      sleep ` + delay.Truncate(time.Millisecond).String() + ` 2>/dev/null || sleep 0.05
      echo "info depth 1 multipv 1 score cp 10 pv e2e4"
      echo "bestmove e2e4"
      ;;
    stop)
      echo "info depth 1 multipv 1 score cp 5 pv d2d4"
      echo "bestmove d2d4"
      ;;
    quit) exit 0 ;;
  esac
done
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestPoolPriorityDoesNotStarveLive(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := pool.New(ctx, pool.Config{
		EnginePath:      fakeEngine(t, 300*time.Millisecond),
		PoolSize:        2,
		ReservedForLive: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	// Occupy the single non-reserved worker with a batch task.
	go func() {
		_, _ = p.Analyze(ctx, pool.Request{FEN: "startpos", Priority: pool.PriorityBatch})
	}()
	time.Sleep(50 * time.Millisecond) // let it claim the batch worker

	start := time.Now()
	result, err := p.Analyze(ctx, pool.Request{FEN: "startpos", Priority: pool.PriorityLive})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "e2e4", result.BestMove)
	assert.Lessf(t, elapsed, 250*time.Millisecond, "live task should not wait behind the batch task on the reserved worker")
}

func TestPoolQueueFull(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := pool.New(ctx, pool.Config{
		EnginePath:   fakeEngine(t, time.Second),
		PoolSize:     1,
		MaxQueueSize: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	// Occupy the only worker.
	go func() { _, _ = p.Analyze(ctx, pool.Request{FEN: "startpos", Priority: pool.PriorityBatch}) }()
	time.Sleep(50 * time.Millisecond)

	// Fill the one queue slot.
	go func() { _, _ = p.Analyze(ctx, pool.Request{FEN: "startpos", Priority: pool.PriorityBatch}) }()
	time.Sleep(50 * time.Millisecond)

	_, err = p.Analyze(ctx, pool.Request{FEN: "startpos", Priority: pool.PriorityBatch})
	assert.ErrorIs(t, err, pool.ErrQueueFull)
}

func TestPoolBatchAnalyzeWithReservedWorkerInStats(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := pool.New(ctx, pool.Config{
		EnginePath:      fakeEngine(t, 50*time.Millisecond),
		PoolSize:        3,
		ReservedForLive: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	result, err := p.Analyze(ctx, pool.Request{FEN: "startpos", Priority: pool.PriorityBatch})
	require.NoError(t, err)
	assert.Equal(t, "e2e4", result.BestMove)

	stats := p.Stats()
	assert.Equal(t, 1, stats.ReservedTotal)
}
