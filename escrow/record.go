// Package escrow coordinates a single wager's funds across the two
// ledgers. The primary ledger holds the real token and is the source of
// truth; the secondary ledger's escrow agent mirrors the bookkeeping for
// fast reads. The coordinator runs each multi-ledger operation as a saga
// with explicit compensation rather than any atomic commit.
package escrow

import "time"

// State is the coordinator's view of where an escrow is in its lifecycle.
// Transitions only move forward, except RolledBack which is terminal after
// a failed deploy saga.
type State string

const (
	// StateEscrowCreated: secondary escrow deployed, primary game not yet
	// created.
	StateEscrowCreated State = "escrow_created"

	// StatePrimaryCreated: primary game creation confirmed.
	StatePrimaryCreated State = "primary_created"

	// StateLinked: the primary game id has been extracted and bound to the
	// secondary escrow id.
	StateLinked State = "linked"

	// StateDepositing: at least one deposit confirmed on the primary.
	StateDepositing State = "depositing"

	// StateBothDeposited: both stakes confirmed on the primary ledger.
	StateBothDeposited State = "both_deposited"

	// StatePayoutPending: winner declaration submitted to the primary.
	StatePayoutPending State = "payout_pending"

	// StateReleased: primary payout confirmed. Terminal.
	StateReleased State = "released"

	// StateRolledBack: deploy saga failed and compensation ran. Terminal.
	StateRolledBack State = "rolled_back"
)

// Record is the durable cross-ledger bookkeeping for one escrow. It is
// keyed by the secondary ledger's escrow id.
type Record struct {
	EscrowID    string `json:"escrowId"`
	GameID      string `json:"gameId"`
	MatchID     string `json:"matchId"`
	Player1     string `json:"player1"`
	Player2     string `json:"player2"`
	StakeAmount int64  `json:"stakeAmount"`
	State       State  `json:"state"`

	Player1Deposited bool `json:"player1Deposited"`
	Player2Deposited bool `json:"player2Deposited"`
	// SecondaryInSync goes false when a mirror write to the escrow agent
	// fails; the divergence is reported, never silently repaired.
	SecondaryInSync bool `json:"secondaryInSync"`

	Winner        string `json:"winner,omitempty"`
	FundsReleased bool   `json:"fundsReleased"`
	PayoutAmount  int64  `json:"payoutAmount,omitempty"`
	FeeCollected  int64  `json:"feeCollected,omitempty"`

	CreateTx  string `json:"createTx,omitempty"`
	PayoutTx  string `json:"payoutTx,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

func (r *Record) touch() {
	r.UpdatedAt = time.Now().Unix()
}

// Pot is the combined stake held for this escrow.
func (r *Record) Pot() int64 {
	return r.StakeAmount * 2
}

// DepositedBy reports whether the given player address has a confirmed
// primary-ledger deposit.
func (r *Record) DepositedBy(addr string) bool {
	switch addr {
	case r.Player1:
		return r.Player1Deposited
	case r.Player2:
		return r.Player2Deposited
	}
	return false
}
