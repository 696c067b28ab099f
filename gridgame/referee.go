package gridgame

import (
	"context"
	"fmt"
	"sync"

	"github.com/decred/slog"
)

// PayoutTrigger releases the escrowed pot to the winner. The escrow
// coordinator satisfies this; the referee only ever calls it with an address
// from its own registry, never one supplied by a client.
type PayoutTrigger interface {
	PayoutWinner(ctx context.Context, gameID, escrowID, winnerAddr string) (txHash string, err error)
}

// matchInfo binds a game id to its escrow and the players' payout addresses.
type matchInfo struct {
	escrowID string
	addr1    string
	addr2    string
}

// MoveResult is what a client gets back for a submitted move. A rejected
// move leaves the board, turn and phase untouched.
type MoveResult struct {
	Accepted      bool   `json:"accepted"`
	Reason        string `json:"reason,omitempty"`
	FraudDetected bool   `json:"fraudDetected,omitempty"`
	Phase         Phase  `json:"phase"`
	NextPlayer    int32  `json:"nextPlayer"`
	Winner        int32  `json:"winner,omitempty"`
	PayoutTxHash  string `json:"payoutTxHash,omitempty"`
	PayoutError   string `json:"payoutError,omitempty"`
}

// Referee is the sole authority on move legality and win detection for the
// games it monitors. It never accepts a result claim from a client; the only
// way a game ends is its own CheckWinner evaluation of its own board.
type Referee struct {
	manager *Manager
	payouts PayoutTrigger
	log     slog.Logger

	mu      sync.Mutex
	matches map[string]matchInfo
}

func NewReferee(manager *Manager, payouts PayoutTrigger, log slog.Logger) *Referee {
	if log == nil {
		log = slog.Disabled
	}
	return &Referee{
		manager: manager,
		payouts: payouts,
		log:     log,
		matches: make(map[string]matchInfo),
	}
}

// RegisterMatch binds the escrow id and payout addresses the referee will
// use when the game concludes. Must be called before the winning move can
// trigger a payout.
func (r *Referee) RegisterMatch(gameID, escrowID, addr1, addr2 string) error {
	if gameID == "" || escrowID == "" {
		return fmt.Errorf("missing game or escrow id")
	}
	if addr1 == "" || addr2 == "" {
		return fmt.Errorf("missing payout address")
	}
	r.mu.Lock()
	r.matches[gameID] = matchInfo{escrowID: escrowID, addr1: addr1, addr2: addr2}
	r.mu.Unlock()
	r.log.Debugf("game %s: registered escrow %s", gameID, escrowID)
	return nil
}

// gameLock serializes all processing for one game id. The lock is the
// manager's per-game state mutex, so snapshot reads through the manager
// and move writes here never interleave. Distinct games run fully
// independently.
func (r *Referee) gameLock(gameID string) *sync.Mutex {
	return r.manager.lockFor(gameID)
}

// ValidateMove checks a move against the authoritative board without
// applying it.
func (r *Referee) ValidateMove(gameID string, mv Move) Verdict {
	l := r.gameLock(gameID)
	l.Lock()
	defer l.Unlock()
	return r.manager.getOrCreate(gameID).validateMove(mv)
}

// ProcessMove is the single external entry point: it initializes state on
// first sight of a game id, validates the claimed move, records it, checks
// for a winner and, only when a winner is found, triggers the payout using
// the referee's own address registry. Payout failure is non-fatal: the
// recorded win stands and payout can be retried independently.
func (r *Referee) ProcessMove(ctx context.Context, gameID string, mv Move) MoveResult {
	l := r.gameLock(gameID)
	l.Lock()
	defer l.Unlock()

	g := r.manager.getOrCreate(gameID)

	if v := g.validateMove(mv); !v.Valid {
		r.log.Warnf("game %s: rejected move by player %d: %s", gameID, mv.Player, v.Reason)
		return MoveResult{
			Accepted:      false,
			Reason:        v.Reason,
			FraudDetected: v.Fraud,
			Phase:         g.Phase,
			NextPlayer:    g.CurrentPlayer,
			Winner:        g.Winner,
		}
	}

	g.applyMove(mv)
	res := MoveResult{
		Accepted:   true,
		Phase:      g.Phase,
		NextPlayer: g.CurrentPlayer,
	}

	winner := g.Board.CheckWinner()
	if winner == 0 {
		return res
	}

	g.conclude(winner)
	res.Phase = g.Phase
	res.Winner = winner
	r.log.Infof("game %s: player %d wins after %d moves", gameID, winner, len(g.Moves))

	r.mu.Lock()
	match, ok := r.matches[gameID]
	r.mu.Unlock()
	if !ok {
		res.PayoutError = "no escrow registered for game"
		r.log.Warnf("game %s: winner recorded but no escrow registered", gameID)
		return res
	}

	addr := match.addr1
	if winner == 2 {
		addr = match.addr2
	}
	txHash, err := r.payouts.PayoutWinner(ctx, gameID, match.escrowID, addr)
	if err != nil {
		// The win is already recorded; payout is retryable because the
		// coordinator rejects a second release of the same escrow.
		res.PayoutError = err.Error()
		r.log.Errorf("game %s: payout to %s failed: %v", gameID, addr, err)
		return res
	}
	res.PayoutTxHash = txHash
	r.log.Infof("game %s: payout tx %s sent to %s", gameID, txHash, addr)
	return res
}
