package gridgame

import (
	"fmt"
	"time"
)

// Phase is the lifecycle phase of a game.
type Phase string

const (
	PhasePlacement Phase = "placement"
	PhaseMovement  Phase = "movement"
	PhaseConcluded Phase = "concluded"
)

// MoveType distinguishes placing a new piece from relocating one.
type MoveType string

const (
	MovePlacement MoveType = "placement"
	MoveMovement  MoveType = "movement"
)

// Move is a single board action claimed by a client. From is ignored for
// placements. Accepted moves are append-only in the game's move log.
type Move struct {
	Player    int32     `json:"player"`
	Type      MoveType  `json:"type"`
	From      int       `json:"from"`
	To        int       `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// Verdict is the outcome of validating a single move. Any invalid
// submission is treated as adversarial, not merely malformed, so Fraud is
// set on every rejection.
type Verdict struct {
	Valid  bool
	Reason string
	Fraud  bool
}

func reject(reason string) Verdict {
	return Verdict{Valid: false, Reason: reason, Fraud: true}
}

// GameState is the authoritative state for one game id. It is owned by the
// Manager and mutated only through validated moves; callers get snapshots.
type GameState struct {
	ID            string
	Board         Board
	Moves         []Move
	Phase         Phase
	CurrentPlayer int32
	Winner        int32
	StartedAt     time.Time
}

func newGameState(id string) *GameState {
	return &GameState{
		ID:            id,
		Phase:         PhasePlacement,
		CurrentPlayer: 1,
		StartedAt:     time.Now(),
	}
}

// validateMove checks a move against the current board without applying it.
func (g *GameState) validateMove(mv Move) Verdict {
	if g.Phase == PhaseConcluded {
		return reject("game already concluded")
	}
	if mv.Player != 1 && mv.Player != 2 {
		return reject(fmt.Sprintf("unknown player %d", mv.Player))
	}
	if mv.Player != g.CurrentPlayer {
		return reject(fmt.Sprintf("not player %d's turn", mv.Player))
	}
	if !InBounds(mv.To) {
		return reject(fmt.Sprintf("target cell %d out of bounds", mv.To))
	}
	if g.Board[mv.To] != 0 {
		return reject(fmt.Sprintf("cell %d is occupied", mv.To))
	}

	switch g.Phase {
	case PhasePlacement:
		if mv.Type != MovePlacement {
			return reject("movement not allowed during placement phase")
		}
		if g.Board.PieceCount(mv.Player) >= PiecesPerPlayer {
			return reject(fmt.Sprintf("player %d already placed %d pieces", mv.Player, PiecesPerPlayer))
		}
	case PhaseMovement:
		if mv.Type != MoveMovement {
			return reject("placement not allowed during movement phase")
		}
		if !InBounds(mv.From) {
			return reject(fmt.Sprintf("source cell %d out of bounds", mv.From))
		}
		// Relocation is unconstrained by adjacency; only ownership of the
		// source cell matters.
		if int32(g.Board[mv.From]) != mv.Player {
			return reject(fmt.Sprintf("cell %d does not hold player %d's piece", mv.From, mv.Player))
		}
	}
	return Verdict{Valid: true}
}

// applyMove applies an already-validated move: updates the board, appends to
// the move log, flips the turn and advances the phase once both players have
// placed all pieces.
func (g *GameState) applyMove(mv Move) {
	if mv.Timestamp.IsZero() {
		mv.Timestamp = time.Now()
	}
	if g.Phase == PhaseMovement {
		g.Board[mv.From] = 0
	}
	g.Board[mv.To] = Cell(mv.Player)
	g.Moves = append(g.Moves, mv)
	g.CurrentPlayer = 3 - g.CurrentPlayer

	if g.Phase == PhasePlacement &&
		g.Board.PieceCount(1) == PiecesPerPlayer &&
		g.Board.PieceCount(2) == PiecesPerPlayer {
		g.Phase = PhaseMovement
	}
}

// conclude records the winner and freezes the state.
func (g *GameState) conclude(winner int32) {
	g.Winner = winner
	g.Phase = PhaseConcluded
}

// Snapshot returns a copy safe to hand outside the manager.
func (g *GameState) Snapshot() GameState {
	cp := *g
	cp.Moves = append([]Move(nil), g.Moves...)
	return cp
}

// ReplayMoves rebuilds a board by applying a recorded move log to an empty
// board. It returns an error if the log contains a move that would have been
// rejected, which would mean the log was tampered with.
func ReplayMoves(moves []Move) (*GameState, error) {
	g := newGameState("replay")
	for i, mv := range moves {
		if v := g.validateMove(mv); !v.Valid {
			return nil, fmt.Errorf("move %d invalid on replay: %s", i, v.Reason)
		}
		g.applyMove(mv)
		if w := g.Board.CheckWinner(); w != 0 {
			g.conclude(w)
		}
	}
	return g, nil
}
