// Package ledger defines the call/response surface this system consumes
// from its two settlement ledgers, plus the shared confirmation poller.
// The primary ledger holds the wagered token and is the source of truth;
// the secondary ledger only mirrors escrow bookkeeping.
package ledger

import (
	"context"
	"errors"
)

var (
	// ErrConfirmTimeout means the confirmation poll budget ran out without
	// observing a receipt. Distinct from a ledger-reported revert.
	ErrConfirmTimeout = errors.New("confirmation polling timed out")

	// ErrTxReverted means the ledger reported a non-success receipt status.
	ErrTxReverted = errors.New("transaction reverted")

	// ErrReceiptNotFound means the transaction has no receipt yet.
	ErrReceiptNotFound = errors.New("receipt not found")
)

// TxStatus is the outcome a ledger reports for a submitted transaction.
type TxStatus string

const (
	StatusPending  TxStatus = "pending"
	StatusSuccess  TxStatus = "success"
	StatusReverted TxStatus = "reverted"
)

// Receipt is a confirmed ledger observation for one transaction.
type Receipt struct {
	TxHash string
	Status TxStatus
	Block  uint64
}

// GameInfo is the primary ledger's view of a wager game (the `games(id)`
// contract read).
type GameInfo struct {
	GameID        string
	Player1       string
	Player2       string
	Stake1        int64
	Stake2        int64
	Player1Staked bool
	Player2Staked bool
	Started       bool
	Ended         bool
	Winner        string
}

// EscrowStatus is the secondary ledger's view of an escrow.
type EscrowStatus struct {
	EscrowID         string `json:"escrowId"`
	Player1          string `json:"player1"`
	Player2          string `json:"player2"`
	StakeAmount      int64  `json:"stakeAmount"`
	Player1Deposited bool   `json:"player1Deposited"`
	Player2Deposited bool   `json:"player2Deposited"`
	TotalDeposited   int64  `json:"totalDeposited"`
	Winner           string `json:"winner"`
	Completed        bool   `json:"completed"`
	FundsReleased    bool   `json:"fundsReleased"`
}

// DeployResult is returned by the secondary ledger's deployEscrow call.
type DeployResult struct {
	EscrowID string `json:"contractId"`
	TxID     string `json:"txId"`
}

// DepositResult is returned by the secondary ledger's depositStake call.
type DepositResult struct {
	Deposited     bool  `json:"deposited"`
	BothDeposited bool  `json:"bothDeposited"`
	TotalPot      int64 `json:"totalPot"`
}

// ReleaseResult is returned by the secondary ledger's releaseToWinner call.
type ReleaseResult struct {
	Amount int64 `json:"amount"`
}

// PrimaryLedger is the chain holding the actual wagered token. Writes
// return a transaction hash immediately; callers confirm via Receipt and
// the Confirm poller.
type PrimaryLedger interface {
	// Approve grants the wager contract an allowance of the stake token.
	Approve(ctx context.Context, amount int64) (txHash string, err error)

	// CreateGame submits game creation for the two players.
	CreateGame(ctx context.Context, player1, player2 string) (txHash string, err error)

	// CreatedGameID extracts the new game id from a confirmed creation tx.
	CreatedGameID(ctx context.Context, txHash string) (string, error)

	// Stake transfers a player's stake into the game.
	Stake(ctx context.Context, gameID string, amount int64) (txHash string, err error)

	// DeclareWinner ends the game; the contract autonomously transfers
	// pot minus platform fee to the winner.
	DeclareWinner(ctx context.Context, gameID, winnerAddr string) (txHash string, err error)

	// Receipt fetches the receipt for a submitted transaction, or
	// ErrReceiptNotFound while it is still pending.
	Receipt(ctx context.Context, txHash string) (*Receipt, error)

	// Game reads the on-chain game record.
	Game(ctx context.Context, gameID string) (*GameInfo, error)
}

// SecondaryLedger is the fast-finality escrow agent. Its calls settle
// synchronously from the caller's point of view.
type SecondaryLedger interface {
	DeployEscrow(ctx context.Context, stake int64, player1, player2 string) (*DeployResult, error)
	DepositStake(ctx context.Context, escrowID, player string, amount int64) (*DepositResult, error)
	ReleaseToWinner(ctx context.Context, escrowID, winnerAddr string) (*ReleaseResult, error)
	RefundStakes(ctx context.Context, escrowID string) error
	EscrowStatus(ctx context.Context, escrowID string) (*EscrowStatus, error)
}
