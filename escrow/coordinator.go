package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"

	"github.com/vctt94/gridwager/ledger"
)

var (
	// ErrAlreadyReleased means the escrow's funds were already paid out; a
	// repeat payout request is a no-op rejected with this sentinel.
	ErrAlreadyReleased = errors.New("escrow funds already released")

	// ErrStakeOutOfBounds rejects a deploy whose stake falls outside the
	// configured platform bounds.
	ErrStakeOutOfBounds = errors.New("stake outside allowed bounds")

	// ErrNotRefundable rejects a refund once both deposits landed or funds
	// were released.
	ErrNotRefundable = errors.New("escrow is not refundable")
)

// StepError identifies which saga step failed and, when a transaction was
// already submitted, which one, so operators can resume or investigate
// manually.
type StepError struct {
	Step   string
	TxHash string
	Err    error
}

func (e *StepError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("step %s (tx %s): %v", e.Step, e.TxHash, e.Err)
	}
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// DefaultFeeBps is the platform fee taken from the pot at payout, in basis
// points.
const DefaultFeeBps = 25

// Config assembles a Coordinator.
type Config struct {
	Primary   ledger.PrimaryLedger
	Secondary ledger.SecondaryLedger
	Store     StateStore
	Confirm   ledger.ConfirmPolicy
	MinStake  int64
	MaxStake  int64
	// FeeBps defaults to DefaultFeeBps when zero.
	FeeBps int64
	Log    slog.Logger
}

// Coordinator runs every funds operation as write-primary, confirm, then
// mirror-secondary. Mirror failures mark the record out of sync and are
// surfaced, never retried silently; the primary ledger always wins.
type Coordinator struct {
	primary   ledger.PrimaryLedger
	secondary ledger.SecondaryLedger
	store     StateStore
	confirm   ledger.ConfirmPolicy
	minStake  int64
	maxStake  int64
	feeBps    int64
	log       slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Primary == nil || cfg.Secondary == nil || cfg.Store == nil {
		return nil, errors.New("coordinator needs primary, secondary and store")
	}
	if cfg.MinStake <= 0 || cfg.MaxStake < cfg.MinStake {
		return nil, fmt.Errorf("bad stake bounds [%d, %d]", cfg.MinStake, cfg.MaxStake)
	}
	feeBps := cfg.FeeBps
	if feeBps == 0 {
		feeBps = DefaultFeeBps
	}
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	return &Coordinator{
		primary:   cfg.Primary,
		secondary: cfg.Secondary,
		store:     cfg.Store,
		confirm:   cfg.Confirm,
		minStake:  cfg.MinStake,
		maxStake:  cfg.MaxStake,
		feeBps:    feeBps,
		log:       log,
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

// escrowLock serializes all operations touching one escrow.
func (c *Coordinator) escrowLock(escrowID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[escrowID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[escrowID] = l
	}
	return l
}

func (c *Coordinator) confirmTx(ctx context.Context, txHash string) (*ledger.Receipt, error) {
	return ledger.Confirm(ctx, func(ctx context.Context) (*ledger.Receipt, error) {
		return c.primary.Receipt(ctx, txHash)
	}, c.confirm)
}

// DeployDualChainGame sets up a wager across both ledgers: secondary
// escrow first (cheap, reversible), then the primary game (expensive,
// confirmed), then links the two ids. If the primary leg fails the
// secondary escrow is refunded and the record is marked rolled back.
func (c *Coordinator) DeployDualChainGame(ctx context.Context, player1, player2 string, stake int64) (*Record, error) {
	if stake < c.minStake || stake > c.maxStake {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrStakeOutOfBounds, stake, c.minStake, c.maxStake)
	}
	if player1 == "" || player2 == "" || player1 == player2 {
		return nil, errors.New("deploy needs two distinct player addresses")
	}

	dep, err := c.secondary.DeployEscrow(ctx, stake, player1, player2)
	if err != nil {
		return nil, &StepError{Step: "deploy_escrow", Err: err}
	}

	now := time.Now().Unix()
	rec := &Record{
		EscrowID:        dep.EscrowID,
		MatchID:         uuid.NewString(),
		Player1:         player1,
		Player2:         player2,
		StakeAmount:     stake,
		State:           StateEscrowCreated,
		SecondaryInSync: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := c.store.Put(ctx, rec); err != nil {
		return nil, &StepError{Step: "persist_record", Err: err}
	}
	c.log.Infof("escrow %s created on secondary ledger (stake %d)", rec.EscrowID, stake)

	txHash, err := c.primary.CreateGame(ctx, player1, player2)
	if err != nil {
		return nil, c.rollbackDeploy(ctx, rec, &StepError{Step: "create_game", Err: err})
	}
	rec.CreateTx = txHash

	if _, err := c.confirmTx(ctx, txHash); err != nil {
		step := &StepError{Step: "confirm_create", TxHash: txHash, Err: err}
		if errors.Is(err, ledger.ErrConfirmTimeout) {
			// A timed-out create may still confirm after the poll budget;
			// refunding the secondary now could orphan a primary game.
			// Leave the escrow open with the pending tx recorded and let an
			// operator resolve it once the tx's fate is known.
			rec.touch()
			if perr := c.store.Put(ctx, rec); perr != nil {
				c.log.Errorf("persisting unconfirmed escrow %s: %v", rec.EscrowID, perr)
			}
			c.log.Warnf("escrow %s: create tx %s unconfirmed after poll budget, awaiting operator resolution", rec.EscrowID, txHash)
			return nil, step
		}
		return nil, c.rollbackDeploy(ctx, rec, step)
	}
	rec.State = StatePrimaryCreated
	rec.touch()
	if err := c.store.Put(ctx, rec); err != nil {
		return nil, &StepError{Step: "persist_record", TxHash: txHash, Err: err}
	}

	gameID, err := c.primary.CreatedGameID(ctx, txHash)
	if err != nil {
		return nil, c.rollbackDeploy(ctx, rec, &StepError{Step: "extract_game_id", TxHash: txHash, Err: err})
	}
	rec.GameID = gameID
	rec.State = StateLinked
	rec.touch()
	if err := c.store.Put(ctx, rec); err != nil {
		return nil, &StepError{Step: "persist_record", TxHash: txHash, Err: err}
	}

	c.log.Infof("escrow %s linked to primary game %s (tx %s)", rec.EscrowID, gameID, txHash)
	return rec, nil
}

// rollbackDeploy compensates a failed deploy saga: refund the secondary
// escrow and mark the record terminal. The original step error is what the
// caller sees; a compensation failure is logged for the operator but does
// not mask it.
func (c *Coordinator) rollbackDeploy(ctx context.Context, rec *Record, cause *StepError) error {
	c.log.Warnf("deploy saga for escrow %s failed at %s, compensating: %v", rec.EscrowID, cause.Step, cause.Err)
	if err := c.secondary.RefundStakes(ctx, rec.EscrowID); err != nil {
		c.log.Errorf("compensation refund for escrow %s failed, manual cleanup needed: %v", rec.EscrowID, err)
	}
	rec.State = StateRolledBack
	rec.touch()
	if err := c.store.Put(ctx, rec); err != nil {
		c.log.Errorf("persisting rollback of escrow %s: %v", rec.EscrowID, err)
	}
	return cause
}

// DepositOutcome reports one player's deposit.
type DepositOutcome struct {
	TxHash        string `json:"txHash"`
	BothDeposited bool   `json:"bothDeposited"`
	TotalPot      int64  `json:"totalPot"`
	// SecondaryUpdated is false when the mirror write to the escrow agent
	// failed; the primary deposit still stands.
	SecondaryUpdated bool `json:"secondaryUpdated"`
}

// DepositStake moves a player's stake into the primary game
// (approve, confirm, stake, confirm) and then mirrors the deposit to the
// secondary escrow. A mirror failure leaves the record out of sync and is
// returned to the caller; the primary deposit is never unwound for it.
func (c *Coordinator) DepositStake(ctx context.Context, escrowID, playerAddr string) (*DepositOutcome, error) {
	l := c.escrowLock(escrowID)
	l.Lock()
	defer l.Unlock()

	rec, err := c.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if rec.State == StateRolledBack || rec.FundsReleased {
		return nil, fmt.Errorf("escrow %s is %s, deposits closed", escrowID, rec.State)
	}
	if rec.GameID == "" {
		return nil, fmt.Errorf("escrow %s has no linked primary game", escrowID)
	}
	if playerAddr != rec.Player1 && playerAddr != rec.Player2 {
		return nil, fmt.Errorf("address %s is not a party to escrow %s", playerAddr, escrowID)
	}
	if rec.DepositedBy(playerAddr) {
		return nil, fmt.Errorf("address %s already deposited to escrow %s", playerAddr, escrowID)
	}

	approveTx, err := c.primary.Approve(ctx, rec.StakeAmount)
	if err != nil {
		return nil, &StepError{Step: "approve", Err: err}
	}
	if _, err := c.confirmTx(ctx, approveTx); err != nil {
		return nil, &StepError{Step: "confirm_approve", TxHash: approveTx, Err: err}
	}

	stakeTx, err := c.primary.Stake(ctx, rec.GameID, rec.StakeAmount)
	if err != nil {
		return nil, &StepError{Step: "stake", Err: err}
	}
	if _, err := c.confirmTx(ctx, stakeTx); err != nil {
		return nil, &StepError{Step: "confirm_stake", TxHash: stakeTx, Err: err}
	}

	if playerAddr == rec.Player1 {
		rec.Player1Deposited = true
	} else {
		rec.Player2Deposited = true
	}
	both := rec.Player1Deposited && rec.Player2Deposited
	if both {
		rec.State = StateBothDeposited
	} else {
		rec.State = StateDepositing
	}

	out := &DepositOutcome{
		TxHash:           stakeTx,
		BothDeposited:    both,
		SecondaryUpdated: true,
	}
	if both {
		out.TotalPot = rec.Pot()
	}

	// Mirror to the secondary escrow only after the primary confirmed.
	if _, err := c.secondary.DepositStake(ctx, escrowID, playerAddr, rec.StakeAmount); err != nil {
		rec.SecondaryInSync = false
		out.SecondaryUpdated = false
		rec.touch()
		if perr := c.store.Put(ctx, rec); perr != nil {
			c.log.Errorf("persisting out-of-sync escrow %s: %v", escrowID, perr)
		}
		c.log.Warnf("escrow %s deposit mirror failed, ledgers diverged: %v", escrowID, err)
		return out, &StepError{Step: "mirror_deposit", TxHash: stakeTx, Err: err}
	}

	rec.touch()
	if err := c.store.Put(ctx, rec); err != nil {
		return out, &StepError{Step: "persist_record", TxHash: stakeTx, Err: err}
	}
	c.log.Infof("escrow %s: %s deposited %d (both=%v)", escrowID, playerAddr, rec.StakeAmount, both)
	return out, nil
}

// PayoutOutcome reports a completed winner payout.
type PayoutOutcome struct {
	TxHash string `json:"txHash"`
	Amount int64  `json:"amount"`
	Fee    int64  `json:"fee"`
	// SecondaryReleased is false when the agent-side release failed after
	// the primary payout confirmed.
	SecondaryReleased bool `json:"secondaryReleased"`
}

// PayoutWinner declares the winner on the primary ledger, waits for
// confirmation, latches the release, then releases the secondary escrow.
// The latch is one way: once FundsReleased is set any further payout
// request gets ErrAlreadyReleased, making the operation idempotent against
// duplicate referee triggers.
func (c *Coordinator) PayoutWinner(ctx context.Context, escrowID, winnerAddr string) (*PayoutOutcome, error) {
	l := c.escrowLock(escrowID)
	l.Lock()
	defer l.Unlock()

	rec, err := c.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if rec.FundsReleased {
		return nil, fmt.Errorf("escrow %s: %w", escrowID, ErrAlreadyReleased)
	}
	if rec.State != StateBothDeposited {
		return nil, fmt.Errorf("escrow %s is %s, cannot pay out", escrowID, rec.State)
	}
	if winnerAddr != rec.Player1 && winnerAddr != rec.Player2 {
		return nil, fmt.Errorf("winner %s is not a party to escrow %s", winnerAddr, escrowID)
	}

	txHash, err := c.primary.DeclareWinner(ctx, rec.GameID, winnerAddr)
	if err != nil {
		return nil, &StepError{Step: "declare_winner", Err: err}
	}
	rec.PayoutTx = txHash
	rec.State = StatePayoutPending
	rec.touch()
	if err := c.store.Put(ctx, rec); err != nil {
		return nil, &StepError{Step: "persist_record", TxHash: txHash, Err: err}
	}

	if _, err := c.confirmTx(ctx, txHash); err != nil {
		return nil, &StepError{Step: "confirm_payout", TxHash: txHash, Err: err}
	}

	pot := rec.Pot()
	fee := pot * c.feeBps / 10000
	rec.Winner = winnerAddr
	rec.FundsReleased = true
	rec.PayoutAmount = pot - fee
	rec.FeeCollected = fee
	rec.State = StateReleased
	rec.touch()
	if err := c.store.Put(ctx, rec); err != nil {
		return nil, &StepError{Step: "persist_record", TxHash: txHash, Err: err}
	}

	out := &PayoutOutcome{
		TxHash: txHash,
		Amount: rec.PayoutAmount,
		Fee:    fee,
	}

	if _, err := c.secondary.ReleaseToWinner(ctx, escrowID, winnerAddr); err != nil {
		rec.SecondaryInSync = false
		rec.touch()
		if perr := c.store.Put(ctx, rec); perr != nil {
			c.log.Errorf("persisting out-of-sync escrow %s: %v", escrowID, perr)
		}
		c.log.Warnf("escrow %s paid out on primary but secondary release failed: %v", escrowID, err)
		return out, nil
	}
	out.SecondaryReleased = true

	c.log.Infof("escrow %s released %d to %s (fee %d, tx %s)", escrowID, out.Amount, winnerAddr, fee, txHash)
	return out, nil
}

// RefundEscrow unwinds an escrow that never reached full funding: the
// secondary stakes are refunded and the record goes terminal. Escrows with
// both deposits in, or already released, must settle through payout.
func (c *Coordinator) RefundEscrow(ctx context.Context, escrowID string) (*Record, error) {
	l := c.escrowLock(escrowID)
	l.Lock()
	defer l.Unlock()

	rec, err := c.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if rec.FundsReleased || rec.State == StateBothDeposited || rec.State == StatePayoutPending {
		return nil, fmt.Errorf("escrow %s in state %s: %w", escrowID, rec.State, ErrNotRefundable)
	}
	if rec.State == StateRolledBack {
		return rec, nil
	}

	if err := c.secondary.RefundStakes(ctx, escrowID); err != nil {
		return nil, &StepError{Step: "refund_stakes", Err: err}
	}
	rec.State = StateRolledBack
	rec.touch()
	if err := c.store.Put(ctx, rec); err != nil {
		return nil, &StepError{Step: "persist_record", Err: err}
	}
	c.log.Infof("escrow %s refunded and closed", escrowID)
	return rec, nil
}

// Divergence is one field where the two ledgers (or the local record)
// disagree.
type Divergence struct {
	Field     string `json:"field"`
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
}

// SyncReport is the result of a cross-ledger consistency check.
type SyncReport struct {
	EscrowID    string       `json:"escrowId"`
	GameID      string       `json:"gameId"`
	InSync      bool         `json:"inSync"`
	Divergences []Divergence `json:"divergences,omitempty"`
	Record      *Record      `json:"record"`
}

// CheckSyncStatus reads both ledgers and reports every field on which they
// disagree. It never repairs: the primary is the truth and divergences are
// for operators to resolve.
func (c *Coordinator) CheckSyncStatus(ctx context.Context, escrowID string) (*SyncReport, error) {
	rec, err := c.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{EscrowID: escrowID, GameID: rec.GameID, Record: rec}

	var game *ledger.GameInfo
	if rec.GameID != "" {
		game, err = c.primary.Game(ctx, rec.GameID)
		if err != nil {
			return nil, &StepError{Step: "read_primary", Err: err}
		}
	}
	sec, err := c.secondary.EscrowStatus(ctx, escrowID)
	if err != nil {
		return nil, &StepError{Step: "read_secondary", Err: err}
	}

	add := func(field, primary, secondary string) {
		if primary != secondary {
			report.Divergences = append(report.Divergences, Divergence{field, primary, secondary})
		}
	}
	if game != nil {
		add("player1Deposited", fmt.Sprint(game.Player1Staked), fmt.Sprint(sec.Player1Deposited))
		add("player2Deposited", fmt.Sprint(game.Player2Staked), fmt.Sprint(sec.Player2Deposited))
		add("ended", fmt.Sprint(game.Ended), fmt.Sprint(sec.Completed))
	}
	add("stakeAmount", fmt.Sprint(rec.StakeAmount), fmt.Sprint(sec.StakeAmount))
	add("fundsReleased", fmt.Sprint(rec.FundsReleased), fmt.Sprint(sec.FundsReleased))

	report.InSync = len(report.Divergences) == 0 && rec.SecondaryInSync
	return report, nil
}

// Escrow returns the stored record for an escrow id.
func (c *Coordinator) Escrow(ctx context.Context, escrowID string) (*Record, error) {
	return c.store.Get(ctx, escrowID)
}
