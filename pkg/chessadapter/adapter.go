// Package chessadapter is the external chess-rules collaborator (C1): it loads PGN, enumerates
// plies with SAN/UCI notation and the FEN before/after each ply, and validates FEN strings. It
// wraps github.com/notnil/chess so the core never implements legal move generation itself
// (§1 Non-goals).
package chessadapter

import (
	"fmt"
	"strings"

	"github.com/notnil/chess"
)

// Side is a ply's side to move, rendered the way the rest of the core (and persisted rows)
// expect it.
type Side string

const (
	White Side = "white"
	Black Side = "black"
)

// Ply is one half-move of a replayed game: its notations in both SAN and UCI, the mover, and
// the FEN immediately before and after it was played (§6 chess adapter API).
type Ply struct {
	Index     int // 1-based ply number
	SAN       string
	UCI       string
	Side      Side
	FENBefore string
	FENAfter  string
}

// Game is a fully replayed PGN: an ordered list of plies.
type Game struct {
	Plies []Ply
}

var (
	uciNotation = chess.UCINotation{}
	algNotation = chess.AlgebraicNotation{}
)

// LoadPGN parses a PGN document and replays every move from the starting position, recording
// SAN, UCI, side to move, and before/after FEN for each ply.
func LoadPGN(pgn string) (*Game, error) {
	opt, err := chess.PGN(strings.NewReader(pgn))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPGN, err)
	}

	parsed := chess.NewGame(opt)
	moves := parsed.Moves()
	if len(moves) == 0 {
		return &Game{}, nil
	}

	replay := chess.NewGame()
	plies := make([]Ply, 0, len(moves))

	for i, m := range moves {
		pos := replay.Position()

		side := White
		if pos.Turn() == chess.Black {
			side = Black
		}

		ply := Ply{
			Index:     i + 1,
			SAN:       algNotation.Encode(pos, m),
			UCI:       uciNotation.Encode(pos, m),
			Side:      side,
			FENBefore: pos.String(),
		}

		if err := replay.Move(m); err != nil {
			return nil, fmt.Errorf("%w: ply %v: %v", ErrInvalidPGN, i+1, err)
		}
		ply.FENAfter = replay.Position().String()

		plies = append(plies, ply)
	}

	return &Game{Plies: plies}, nil
}

// ValidateFEN checks the minimal contract this core relies on: at least the first four
// space-separated FEN fields (placement, side to move, castling rights, en passant) must be
// present, side to move must be 'w' or 'b', and the placement field must describe exactly 8
// ranks each summing to 8 files.
func ValidateFEN(fen string) error {
	fields := strings.Fields(fen)
	if len(fields) < 4 {
		return fmt.Errorf("%w: expected at least 4 fields, got %v", ErrInvalidFEN, len(fields))
	}

	ranks := strings.Split(fields[0], "/")
	if len(ranks) != 8 {
		return fmt.Errorf("%w: expected 8 ranks, got %v", ErrInvalidFEN, len(ranks))
	}
	for _, rank := range ranks {
		count := 0
		for _, c := range rank {
			switch {
			case c >= '1' && c <= '8':
				count += int(c - '0')
			case strings.ContainsRune("kqrbnpKQRBNP", c):
				count++
			default:
				return fmt.Errorf("%w: invalid rank %q", ErrInvalidFEN, rank)
			}
		}
		if count != 8 {
			return fmt.Errorf("%w: rank %q does not sum to 8", ErrInvalidFEN, rank)
		}
	}

	if fields[1] != "w" && fields[1] != "b" {
		return fmt.Errorf("%w: side to move must be 'w' or 'b', got %q", ErrInvalidFEN, fields[1])
	}

	return nil
}
