package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/herohde/stockpool/pkg/chessadapter"
	"github.com/herohde/stockpool/pkg/pool"
	"github.com/herohde/stockpool/pkg/store"
	"github.com/herohde/stockpool/pkg/uci"
	"github.com/seekerror/logw"
	"github.com/seekerror/stdlib/pkg/lang"
)

const (
	defaultMultiPV       = 3
	followUpDepthMultiPV = 1
)

// Analyzer is the game analyzer (C4): it drives the whole-game analysis pipeline described in
// the phase breakdown below, submitting every ply to the shared pool at batch priority and
// persisting the result through a Store.
type Analyzer struct {
	pool  *pool.Pool
	store store.Store

	mu        sync.Mutex
	inFlight  map[string]struct{}
}

// New constructs an Analyzer over the given pool and store.
func New(p *pool.Pool, s store.Store) *Analyzer {
	return &Analyzer{
		pool:     p,
		store:    s,
		inFlight: make(map[string]struct{}),
	}
}

// IsAnalyzing reports whether gameID currently has a run in progress (§4.3 concurrency safety).
func (a *Analyzer) IsAnalyzing(gameID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.inFlight[gameID]
	return ok
}

func (a *Analyzer) enter(gameID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.inFlight[gameID]; ok {
		return ErrAlreadyAnalyzing
	}
	a.inFlight[gameID] = struct{}{}
	return nil
}

func (a *Analyzer) leave(gameID string) {
	a.mu.Lock()
	delete(a.inFlight, gameID)
	a.mu.Unlock()
}

// plyOutcome is one ply's phase-2 result, ready for phase-3 persistence and aggregation.
type plyOutcome struct {
	moveNumber int
	row        store.Row
	severity   Severity
	side       chessadapter.Side
}

// AnalyzeGame runs the full three-phase pipeline for gameID (§4.3). Only one run per gameID may
// be in flight at a time; a concurrent call returns ErrAlreadyAnalyzing.
func (a *Analyzer) AnalyzeGame(ctx context.Context, gameID string, opt Options) (*Result, error) {
	opt = opt.withDefaults()

	if err := a.enter(gameID); err != nil {
		return nil, err
	}
	defer a.leave(gameID)

	// Phase 1: precompute.
	gameRow, err := a.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("%w: load game: %v", ErrPersistence, err)
	}

	game, err := chessadapter.LoadPGN(gameRow.PGN)
	if err != nil {
		return nil, fmt.Errorf("analysis: parse pgn: %w", err)
	}

	plies := truncatePlies(game.Plies, opt.SkipOpeningPlies, opt.MaxPositions)
	if len(plies) == 0 {
		return &Result{GameID: gameID}, nil
	}

	a.pool.NewGame(ctx)

	// Phase 2: parallel analysis, bounded to the pool's batch-worker count.
	outcomes, err := a.analyzePlies(ctx, gameID, plies, opt)
	if err != nil {
		return nil, err
	}

	// Phase 3: persist & aggregate.
	res, err := a.persistAndAggregate(ctx, gameID, outcomes)
	if err != nil {
		return nil, err
	}
	if opt.Progress != nil {
		select {
		case opt.Progress <- Progress{Current: len(outcomes), Total: len(plies), Percentage: 100, Status: "complete"}:
		default:
		}
	}
	return res, nil
}

func truncatePlies(plies []chessadapter.Ply, skip int, max lang.Optional[int]) []chessadapter.Ply {
	if skip < 0 {
		skip = 0
	}
	if skip > len(plies) {
		return nil
	}
	rest := plies[skip:]

	if n, ok := max.V(); ok && n < len(rest) {
		rest = rest[:n]
	}
	return rest
}

// analyzePlies submits every ply to the pool at batch priority, bounded to the pool's current
// batch-worker count (§4.3 phase 2's "strict concurrency cap"), and collects one outcome per
// ply. Emits Progress after each completed ply.
func (a *Analyzer) analyzePlies(ctx context.Context, gameID string, plies []chessadapter.Ply, opt Options) ([]plyOutcome, error) {
	limit := batchWorkerCount(a.pool)
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		outcomes  = make([]plyOutcome, 0, len(plies))
		firstErr  error
		completed int
	)

	total := len(plies)

	for _, ply := range plies {
		if ctx.Err() != nil {
			break // §4.3 cancellation: stop enqueueing further plies once cancelled.
		}

		ply := ply
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			out, err := a.analyzeOnePly(ctx, ply, opt)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			outcomes = append(outcomes, out)
			completed++

			if opt.Progress != nil {
				select {
				case opt.Progress <- Progress{
					Current:    completed,
					Total:      total,
					Percentage: 100 * float64(completed) / float64(total),
					Status:     "analyzing",
				}:
				default:
				}
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		if opt.Progress != nil {
			select {
			case opt.Progress <- Progress{Total: total, Status: "error", Message: firstErr.Error()}:
			default:
			}
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrAnalysisCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("analysis: %s: %w", gameID, firstErr)
	}

	if ctx.Err() != nil && len(outcomes) < total {
		return nil, fmt.Errorf("%w: %w", ErrAnalysisCancelled, ctx.Err())
	}

	return outcomes, nil
}

func (a *Analyzer) analyzeOnePly(ctx context.Context, ply chessadapter.Ply, opt Options) (plyOutcome, error) {
	result, err := a.pool.Analyze(ctx, pool.Request{
		FEN:      ply.FENBefore,
		Depth:    opt.Depth,
		MultiPV:  defaultMultiPV,
		Priority: pool.PriorityBatch,
	})
	if err != nil {
		return plyOutcome{}, fmt.Errorf("ply %v: %w", ply.Index, err)
	}

	bestEval := 0
	if len(result.Lines) > 0 {
		bestEval = result.Lines[0].Evaluation
	}

	playerEval, err := a.resolvePlayerEval(ctx, ply, opt.Depth, result)
	if err != nil {
		return plyOutcome{}, fmt.Errorf("ply %v: follow-up: %w", ply.Index, err)
	}

	cpLoss := bestEval - playerEval
	if cpLoss < 0 {
		cpLoss = 0
	}

	wpLoss := WinProbability(bestEval) - WinProbability(playerEval)
	if wpLoss < 0 {
		wpLoss = 0
	}

	severity := Classify(cpLoss)
	row := store.Row{
		MoveNumber:          ply.Index,
		PlayerMove:          ply.SAN,
		PositionFEN:         ply.FENBefore,
		BestMove:            result.BestMove,
		BestLine:            strings.Join(bestLineMoves(result), " "),
		StockfishEvaluation: moverRelative(bestEval, ply.Side),
		AnalysisDepth:       result.Depth,
		MistakeSeverity:     string(severity),
		CentipawnLoss:       cpLoss,
		WinProbabilityLoss:  wpLoss,
	}

	return plyOutcome{moveNumber: ply.Index, row: row, severity: severity, side: ply.Side}, nil
}

// resolvePlayerEval implements §4.3 phase 2 step 2: find the PV line whose first move matches
// the move actually played; if none exists, fall back to a follow-up single-PV search of the
// position after the move and negate its (opponent-relative) evaluation.
func (a *Analyzer) resolvePlayerEval(ctx context.Context, ply chessadapter.Ply, depth int, result uci.Result) (int, error) {
	for _, line := range result.Lines {
		if line.BestMove == ply.UCI {
			return line.Evaluation, nil
		}
	}

	after, err := a.pool.Analyze(ctx, pool.Request{
		FEN:      ply.FENAfter,
		Depth:    depth,
		MultiPV:  followUpDepthMultiPV,
		Priority: pool.PriorityBatch,
	})
	if err != nil {
		return 0, err
	}

	eval := 0
	if len(after.Lines) > 0 {
		eval = after.Lines[0].Evaluation
	}
	return -eval, nil
}

func bestLineMoves(result uci.Result) []string {
	if len(result.Lines) == 0 {
		return nil
	}
	return result.Lines[0].PV
}

func (a *Analyzer) persistAndAggregate(ctx context.Context, gameID string, outcomes []plyOutcome) (*Result, error) {
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].moveNumber < outcomes[j].moveNumber })

	rows := make([]store.Row, 0, len(outcomes))
	for _, o := range outcomes {
		row := o.row
		row.GameID = gameID
		rows = append(rows, row)
	}

	if err := a.store.ReplaceAnalysis(ctx, gameID, rows); err != nil {
		return nil, fmt.Errorf("%w: replace analysis: %v", ErrPersistence, err)
	}

	res := &Result{GameID: gameID, Rows: rows}
	res.Mistakes, res.White, res.Black, res.Overall = aggregate(outcomes)

	logw.Infof(ctx, "Analysis complete: game=%v plies=%v blunders=%v mistakes=%v inaccuracies=%v",
		gameID, len(rows), res.Mistakes.Blunders, res.Mistakes.Mistakes, res.Mistakes.Inaccuracies)

	return res, nil
}

func aggregate(outcomes []plyOutcome) (Mistakes, SideAccuracy, SideAccuracy, SideAccuracy) {
	var m Mistakes
	var whiteWCL, blackWCL, totalWCL float64
	var whiteN, blackN int

	for _, o := range outcomes {
		switch o.severity {
		case SeverityBlunder:
			m.Blunders++
		case SeverityMistake:
			m.Mistakes++
		case SeverityInaccuracy:
			m.Inaccuracies++
		}

		totalWCL += o.row.WinProbabilityLoss
		if o.side == chessadapter.White {
			whiteWCL += o.row.WinProbabilityLoss
			whiteN++
		} else {
			blackWCL += o.row.WinProbabilityLoss
			blackN++
		}
	}

	white := sideAccuracy(whiteWCL, whiteN)
	black := sideAccuracy(blackWCL, blackN)
	overall := sideAccuracy(totalWCL, len(outcomes))

	return m, white, black, overall
}

func sideAccuracy(totalWCL float64, n int) SideAccuracy {
	if n == 0 {
		return SideAccuracy{}
	}
	avg := totalWCL / float64(n)
	return SideAccuracy{Plies: n, AverageWCL: avg, Accuracy: Accuracy(avg)}
}

// batchWorkerCount reports how many non-reserved workers the pool currently has, used as the
// phase-2 concurrency bound (§4.3: "bound in-flight to poolStats.batchWorkers").
func batchWorkerCount(p *pool.Pool) int {
	s := p.Stats()
	return s.Total - s.ReservedTotal
}
