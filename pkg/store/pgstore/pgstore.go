// Package pgstore is the Postgres-backed store.Store, used when DATABASE_URL is configured
// (§6). Bulk inserts use pgx's binary COPY protocol rather than row-by-row INSERTs, since a
// single game analysis run persists dozens to hundreds of rows at once.
package pgstore

import (
	"context"
	"fmt"

	"github.com/herohde/stockpool/pkg/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a Postgres-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres at dsn and verifies the connection with a ping.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) GetGame(ctx context.Context, gameID string) (store.GameRow, error) {
	var row store.GameRow
	row.ID = gameID

	err := s.pool.QueryRow(ctx, `SELECT pgn FROM games WHERE id = $1`, gameID).Scan(&row.PGN)
	if err != nil {
		if err == pgx.ErrNoRows {
			return store.GameRow{}, fmt.Errorf("%w: %v", store.ErrGameNotFound, gameID)
		}
		return store.GameRow{}, fmt.Errorf("pgstore: get game: %w", err)
	}
	return row, nil
}

var analysisColumns = []string{
	"game_id", "move_number", "player_move", "position_fen", "best_move", "best_line",
	"stockfish_evaluation", "analysis_depth", "mistake_severity", "centipawn_loss",
	"win_probability_loss",
}

// ReplaceAnalysis runs the delete and the bulk insert inside one transaction (§8: all-or-nothing)
// so a failed COPY rolls back the delete instead of leaving gameID's analysis rows lost.
func (s *Store) ReplaceAnalysis(ctx context.Context, gameID string, rows []store.Row) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // no-op once committed

	if _, err := tx.Exec(ctx, `DELETE FROM game_analysis WHERE game_id = $1`, gameID); err != nil {
		return fmt.Errorf("pgstore: delete analysis: %w", err)
	}

	if len(rows) > 0 {
		src := pgx.CopyFromSlice(len(rows), func(i int) ([]interface{}, error) {
			r := rows[i]
			return []interface{}{
				r.GameID, r.MoveNumber, r.PlayerMove, r.PositionFEN, r.BestMove, r.BestLine,
				r.StockfishEvaluation, r.AnalysisDepth, r.MistakeSeverity, r.CentipawnLoss,
				r.WinProbabilityLoss,
			}, nil
		})

		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"game_analysis"}, analysisColumns, src); err != nil {
			return fmt.Errorf("pgstore: bulk insert: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgstore: commit tx: %w", err)
	}
	return nil
}

func (s *Store) FindAnalysisByGameID(ctx context.Context, gameID string) ([]store.Row, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT game_id, move_number, player_move, position_fen, best_move, best_line,
		       stockfish_evaluation, analysis_depth, mistake_severity, centipawn_loss,
		       win_probability_loss, created_at
		FROM game_analysis WHERE game_id = $1 ORDER BY move_number ASC`, gameID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: find analysis: %w", err)
	}
	defer rows.Close()

	var ret []store.Row
	for rows.Next() {
		var r store.Row
		if err := rows.Scan(&r.GameID, &r.MoveNumber, &r.PlayerMove, &r.PositionFEN, &r.BestMove,
			&r.BestLine, &r.StockfishEvaluation, &r.AnalysisDepth, &r.MistakeSeverity,
			&r.CentipawnLoss, &r.WinProbabilityLoss, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan row: %w", err)
		}
		ret = append(ret, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: iterate rows: %w", err)
	}
	return ret, nil
}
