package gridgame

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func place(player int32, to int) Move {
	return Move{Player: player, Type: MovePlacement, To: to}
}

func relocate(player int32, from, to int) Move {
	return Move{Player: player, Type: MoveMovement, From: from, To: to}
}

// fillPlacements alternates placements until both players have 4 pieces.
// Cells are chosen so that no line completes during placement.
func fillPlacements(t *testing.T, g *GameState) {
	t.Helper()
	// p1: 0 1 2 7  p2: 4 5 6 3 — rows broken on the last cell.
	seq := []Move{
		place(1, 0), place(2, 4),
		place(1, 1), place(2, 5),
		place(1, 2), place(2, 6),
		place(1, 7), place(2, 3),
	}
	for i, mv := range seq {
		v := g.validateMove(mv)
		if !v.Valid {
			t.Fatalf("placement %d rejected: %s", i, v.Reason)
		}
		g.applyMove(mv)
	}
}

func TestPlacementTurnOrder(t *testing.T) {
	g := newGameState("g1")

	v := g.validateMove(place(2, 0))
	assert.False(t, v.Valid)
	assert.True(t, v.Fraud)

	v = g.validateMove(place(1, 0))
	assert.True(t, v.Valid)
	g.applyMove(place(1, 0))
	assert.Equal(t, int32(2), g.CurrentPlayer)

	// Player 1 moving again is rejected and the board is unchanged.
	before := g.Board
	v = g.validateMove(place(1, 5))
	assert.False(t, v.Valid)
	assert.True(t, v.Fraud)
	assert.Equal(t, before, g.Board)
}

func TestOccupiedCellRejected(t *testing.T) {
	g := newGameState("g1")
	g.applyMove(place(1, 5))

	before := g.Board
	v := g.validateMove(place(2, 5))
	assert.False(t, v.Valid)
	assert.True(t, v.Fraud)
	assert.Equal(t, before, g.Board)
	assert.Equal(t, int32(2), g.CurrentPlayer)
}

func TestPhaseTransitionAfterEighthPlacement(t *testing.T) {
	g := newGameState("g1")

	assert.Equal(t, PhasePlacement, g.Phase)
	fillPlacements(t, g)
	assert.Equal(t, PhaseMovement, g.Phase)
	assert.Equal(t, 4, g.Board.PieceCount(1))
	assert.Equal(t, 4, g.Board.PieceCount(2))
	assert.Len(t, g.Moves, 8)

	// A ninth placement is rejected.
	v := g.validateMove(place(1, 8))
	assert.False(t, v.Valid)
	assert.True(t, v.Fraud)
}

func TestPlacementCapBeforePhaseFlip(t *testing.T) {
	g := newGameState("g1")
	// 4 pieces for p1, only 3 for p2: still placement phase.
	seq := []Move{
		place(1, 0), place(2, 4),
		place(1, 1), place(2, 5),
		place(1, 2), place(2, 6),
		place(1, 7),
	}
	for _, mv := range seq {
		g.applyMove(mv)
	}
	assert.Equal(t, PhasePlacement, g.Phase)
}

func TestMovementFromUnownedCellRejected(t *testing.T) {
	g := newGameState("g1")
	fillPlacements(t, g)

	before := g.Board
	turn := g.CurrentPlayer

	// Cell 4 holds player 2's piece; player 1 may not move it.
	v := g.validateMove(relocate(1, 4, 9))
	assert.False(t, v.Valid)
	assert.True(t, v.Fraud)
	assert.Equal(t, before, g.Board)
	assert.Equal(t, turn, g.CurrentPlayer)

	// Empty source cell is also fraud.
	v = g.validateMove(relocate(1, 9, 10))
	assert.False(t, v.Valid)
	assert.True(t, v.Fraud)
}

func TestMovementAnyEmptyCell(t *testing.T) {
	g := newGameState("g1")
	fillPlacements(t, g)

	// Relocation across the board, no adjacency requirement.
	v := g.validateMove(relocate(1, 0, 15))
	if !v.Valid {
		t.Fatalf("unexpected rejection: %s", v.Reason)
	}
	g.applyMove(relocate(1, 0, 15))
	assert.Equal(t, Cell(0), g.Board[0])
	assert.Equal(t, Cell(1), g.Board[15])
}

func TestCheckWinnerLines(t *testing.T) {
	var b Board

	// Row.
	b = Board{}
	for _, i := range []int{4, 5, 6, 7} {
		b[i] = 2
	}
	assert.Equal(t, int32(2), b.CheckWinner())

	// Column.
	b = Board{}
	for _, i := range []int{1, 5, 9, 13} {
		b[i] = 1
	}
	assert.Equal(t, int32(1), b.CheckWinner())

	// Both diagonals.
	b = Board{}
	for _, i := range []int{0, 5, 10, 15} {
		b[i] = 1
	}
	assert.Equal(t, int32(1), b.CheckWinner())

	b = Board{}
	for _, i := range []int{3, 6, 9, 12} {
		b[i] = 2
	}
	assert.Equal(t, int32(2), b.CheckWinner())

	// Three in a line is not a win.
	b = Board{}
	for _, i := range []int{0, 1, 2} {
		b[i] = 1
	}
	assert.Equal(t, int32(0), b.CheckWinner())

	// Mixed ownership of a line is not a win.
	b = Board{0: 1, 1: 1, 2: 2, 3: 1}
	assert.Equal(t, int32(0), b.CheckWinner())
}

func TestReplayRoundTrip(t *testing.T) {
	g := newGameState("g1")
	fillPlacements(t, g)

	// p1 completes the top row by relocating 7 -> 3.
	mv := relocate(1, 7, 3)
	v := g.validateMove(mv)
	if !v.Valid {
		t.Fatalf("winning move rejected: %s", v.Reason)
	}
	g.applyMove(mv)
	winner := g.Board.CheckWinner()
	assert.Equal(t, int32(1), winner)
	g.conclude(winner)

	replayed, err := ReplayMoves(g.Moves)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	assert.Equal(t, g.Board, replayed.Board)
	assert.Equal(t, int32(1), replayed.Winner)
	assert.Equal(t, PhaseConcluded, replayed.Phase)
}

func TestReplayRejectsTamperedLog(t *testing.T) {
	moves := []Move{place(1, 0), place(1, 1)} // second move out of turn
	_, err := ReplayMoves(moves)
	assert.Error(t, err)
}

func TestSnapshotIsIndependent(t *testing.T) {
	g := newGameState("g1")
	g.applyMove(place(1, 0))

	snap := g.Snapshot()
	g.applyMove(place(2, 4))

	assert.Len(t, snap.Moves, 1)
	assert.Equal(t, Cell(0), snap.Board[4])
	assert.Equal(t, Cell(2), g.Board[4])
}
