package chessadapter

import "errors"

var (
	// ErrInvalidPGN is returned when a PGN document cannot be parsed.
	ErrInvalidPGN = errors.New("chessadapter: invalid pgn")
	// ErrInvalidFEN is returned when a FEN string fails the §6 validation contract.
	ErrInvalidFEN = errors.New("chessadapter: invalid fen")
)
