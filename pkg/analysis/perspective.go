package analysis

import "github.com/herohde/stockpool/pkg/chessadapter"

// perspective.go fixes the sign convention (§9 "Open question -- sign convention in the
// source", resolved): the engine (and this package's own internals) always report centipawns
// side-to-move-relative, i.e. mover-relative, matching native UCI behavior (see
// pkg/uci/protocol.go). This is the only place in the package permitted to convert between that
// and the White-relative convention the persisted row exposes externally (§3).

// moverRelative converts whiteRelativeOrMoverRelativeCP between the White-relative and
// mover-relative conventions for side. Negation is self-inverse, so the same function serves
// both directions: White-relative -> mover-relative, and mover-relative -> White-relative.
// Unchanged for White, negated for Black.
func moverRelative(whiteRelativeOrMoverRelativeCP int, side chessadapter.Side) int {
	if side == chessadapter.Black {
		return -whiteRelativeOrMoverRelativeCP
	}
	return whiteRelativeOrMoverRelativeCP
}
