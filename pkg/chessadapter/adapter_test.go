package chessadapter_test

import (
	"testing"

	"github.com/herohde/stockpool/pkg/chessadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scholarsMate = `[Event "Test"]

1. e4 e5 2. Bc4 Nc6 3. Qh5 Nf6 4. Qxf7# 1-0`

func TestLoadPGN(t *testing.T) {
	g, err := chessadapter.LoadPGN(scholarsMate)
	require.NoError(t, err)
	require.Len(t, g.Plies, 7)

	first := g.Plies[0]
	assert.Equal(t, 1, first.Index)
	assert.Equal(t, "e4", first.SAN)
	assert.Equal(t, "e2e4", first.UCI)
	assert.Equal(t, chessadapter.White, first.Side)
	assert.Equal(t, "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", first.FENBefore)

	last := g.Plies[len(g.Plies)-1]
	assert.Equal(t, chessadapter.White, last.Side)
}

func TestLoadPGNInvalid(t *testing.T) {
	_, err := chessadapter.LoadPGN("this is not a pgn document {{{")
	assert.ErrorIs(t, err, chessadapter.ErrInvalidPGN)
}

func TestValidateFEN(t *testing.T) {
	tests := []struct {
		name    string
		fen     string
		wantErr bool
	}{
		{"valid starting position", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", false},
		{"valid minimal 4 fields", "8/8/8/8/8/8/8/8 w - -", false},
		{"too few fields", "8/8/8/8/8/8/8/8 w", true},
		{"bad rank count", "8/8/8/8/8/8/8 w - -", true},
		{"bad rank sum", "9/8/8/8/8/8/8/8 w - -", true},
		{"bad side to move", "8/8/8/8/8/8/8/8 x - -", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := chessadapter.ValidateFEN(tt.fen)
			if tt.wantErr {
				assert.ErrorIs(t, err, chessadapter.ErrInvalidFEN)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
