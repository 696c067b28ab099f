// Package negotiator implements the bilateral stake negotiation protocol:
// two self-interested parties converge on a wager amount within hard bounds,
// or fail explicitly after a capped number of rounds.
package negotiator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/decred/slog"
)

// Personality determines how a party sizes its opening proposal and how far
// it moves toward the opponent each round.
type Personality string

const (
	Conservative Personality = "conservative"
	Balanced     Personality = "balanced"
	Aggressive   Personality = "aggressive"
)

// multiplier scales the Kelly fraction when sizing the opening proposal.
func (p Personality) multiplier() float64 {
	switch p {
	case Conservative:
		return 0.5
	case Aggressive:
		return 1.5
	default:
		return 1.0
	}
}

// stepFraction is how far toward the opponent's offer a counter-offer
// moves. Conservative parties concede more; aggressive ones hold their
// ground.
func (p Personality) stepFraction() float64 {
	switch p {
	case Conservative:
		return 0.5
	case Aggressive:
		return 0.2
	default:
		return 0.35
	}
}

// maxKellyFraction caps the bankroll fraction a party will ever wager.
const maxKellyFraction = 0.25

// Party is one side of a negotiation.
type Party struct {
	Name           string
	Addr           string
	Bankroll       int64
	WinProbability float64
	Confidence     float64
	Personality    Personality
}

// Proposal is one side's offer for a round. Immutable once emitted; a new
// Proposal supersedes it the next round.
type Proposal struct {
	Amount          int64   `json:"amount"`
	MinAcceptable   int64   `json:"minAcceptable"`
	MaxWillingToPay int64   `json:"maxWillingToPay"`
	Confidence      float64 `json:"confidence"`
	Reasoning       string  `json:"reasoning"`
}

// Bounds are the hard stake limits; no agreement ever settles outside them.
type Bounds struct {
	Min int64
	Max int64
}

// ReasonOracle phrases the reasoning text attached to each offer. It may
// also signal an explicit accept, which always wins over automatic
// convergence. The zero-value canned oracle is used when nil.
type ReasonOracle interface {
	Phrase(ctx context.Context, party Party, round int, own, opponent int64) (reasoning string, accept bool, err error)
}

// cannedOracle produces deterministic reasoning strings and never signals
// an explicit accept.
type cannedOracle struct{}

func (cannedOracle) Phrase(_ context.Context, party Party, round int, own, opponent int64) (string, bool, error) {
	if round == 1 {
		return fmt.Sprintf("%s opens at %d based on bankroll sizing", party.Name, own), false, nil
	}
	return fmt.Sprintf("%s counters at %d against %d", party.Name, own, opponent), false, nil
}

// Config tunes a negotiation run.
type Config struct {
	Bounds    Bounds
	MaxRounds int
	ThinkTime time.Duration
	Oracle    ReasonOracle
	Log       slog.Logger
}

// DefaultMaxRounds is the hard round cap when Config.MaxRounds is zero.
const DefaultMaxRounds = 5

// RoundRecord is one line of the audit transcript. The protocol's
// correctness does not depend on it.
type RoundRecord struct {
	Round   int    `json:"round"`
	OfferA  int64  `json:"offerA"`
	OfferB  int64  `json:"offerB"`
	ReasonA string `json:"reasonA"`
	ReasonB string `json:"reasonB"`
}

// Result is the outcome of a negotiation.
type Result struct {
	Agreed     bool          `json:"agreed"`
	Stake      int64         `json:"stake,omitempty"`
	Rounds     int           `json:"rounds"`
	Reason     string        `json:"reason,omitempty"`
	Transcript []RoundRecord `json:"transcript,omitempty"`
}

// Negotiator runs negotiation sessions under one bounds/rounds policy.
type Negotiator struct {
	cfg Config
	log slog.Logger
}

func New(cfg Config) *Negotiator {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.Oracle == nil {
		cfg.Oracle = cannedOracle{}
	}
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	return &Negotiator{cfg: cfg, log: log}
}

func clampI64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// kelly is the optimal bankroll fraction for an even-odds wager: p - q.
// Negative edges are floored at zero.
func kelly(winProbability float64) float64 {
	f := 2*winProbability - 1
	if f < 0 {
		return 0
	}
	return f
}

// InitialProposal computes a party's opening offer using the risk-adjusted
// fractional-bankroll rule, clamped to the session bounds.
func InitialProposal(p Party, b Bounds) Proposal {
	fraction := kelly(p.WinProbability) * p.Confidence * p.Personality.multiplier()
	if fraction > maxKellyFraction {
		fraction = maxKellyFraction
	}
	if fraction < 0 {
		fraction = 0
	}
	stake := clampI64(int64(math.Floor(float64(p.Bankroll)*fraction)), b.Min, b.Max)
	return Proposal{
		Amount:          stake,
		MinAcceptable:   stake * 6 / 10,
		MaxWillingToPay: stake * 14 / 10,
		Confidence:      p.Confidence,
	}
}

// converged reports whether the two standing offers agree: each offer must
// be within 20% of their mean.
func converged(a, b int64) bool {
	if a <= 0 || b <= 0 {
		return false
	}
	avg := float64(a+b) / 2
	return math.Abs(float64(a-b))/2 < 0.20*avg
}

// meetingPoint is the agreed stake once offers converge.
func meetingPoint(a, b int64) int64 {
	return int64(math.Floor(float64(a+b) / 2))
}

// counter moves own's offer toward the opponent's by the party's step
// fraction, clamped to own's acceptable band and the session bounds.
func counter(p Party, own Proposal, opponent int64, b Bounds) Proposal {
	step := p.Personality.stepFraction()
	next := float64(own.Amount) + step*float64(opponent-own.Amount)
	amount := clampI64(int64(math.Floor(next)), own.MinAcceptable, own.MaxWillingToPay)
	amount = clampI64(amount, b.Min, b.Max)
	out := own
	out.Amount = amount
	return out
}

// Negotiate runs the full protocol between two parties. A protocol failure
// (no convergence within the round cap) is reported in the Result, not as
// an error; errors are reserved for context cancellation and oracle faults.
func (n *Negotiator) Negotiate(ctx context.Context, a, b Party) (*Result, error) {
	bounds := n.cfg.Bounds
	if bounds.Max <= 0 || bounds.Min <= 0 || bounds.Min > bounds.Max {
		return nil, fmt.Errorf("invalid stake bounds [%d, %d]", bounds.Min, bounds.Max)
	}

	propA := InitialProposal(a, bounds)
	propB := InitialProposal(b, bounds)

	res := &Result{}
	for round := 1; round <= n.cfg.MaxRounds; round++ {
		if round > 1 {
			// Both counters react to the prior round's standing offers; the
			// exchange is simultaneous, neither side sees the other's new
			// offer early.
			prevA, prevB := propA, propB
			propA = counter(a, prevA, prevB.Amount, bounds)
			propB = counter(b, prevB, prevA.Amount, bounds)
		}
		if err := n.think(ctx); err != nil {
			return nil, err
		}

		reasonA, acceptA, err := n.cfg.Oracle.Phrase(ctx, a, round, propA.Amount, propB.Amount)
		if err != nil {
			return nil, fmt.Errorf("oracle for %s: %w", a.Name, err)
		}
		reasonB, acceptB, err := n.cfg.Oracle.Phrase(ctx, b, round, propB.Amount, propA.Amount)
		if err != nil {
			return nil, fmt.Errorf("oracle for %s: %w", b.Name, err)
		}
		propA.Reasoning = reasonA
		propB.Reasoning = reasonB

		res.Rounds = round
		res.Transcript = append(res.Transcript, RoundRecord{
			Round: round, OfferA: propA.Amount, OfferB: propB.Amount,
			ReasonA: reasonA, ReasonB: reasonB,
		})
		n.log.Debugf("negotiation round %d: %s offers %d, %s offers %d",
			round, a.Name, propA.Amount, b.Name, propB.Amount)

		// An explicit accept from either side wins over the automatic
		// convergence test: the accepting party takes the opponent's
		// standing offer.
		if acceptA || acceptB {
			stake := propB.Amount
			if acceptB {
				stake = propA.Amount
			}
			res.Agreed = true
			res.Stake = clampI64(stake, bounds.Min, bounds.Max)
			n.log.Infof("negotiation agreed at %d after %d rounds (explicit accept)", res.Stake, round)
			return res, nil
		}

		if converged(propA.Amount, propB.Amount) {
			res.Agreed = true
			res.Stake = clampI64(meetingPoint(propA.Amount, propB.Amount), bounds.Min, bounds.Max)
			n.log.Infof("negotiation agreed at %d after %d rounds", res.Stake, round)
			return res, nil
		}
	}

	res.Agreed = false
	res.Reason = fmt.Sprintf("no convergence after %d rounds: %s held at %d, %s held at %d (bounds %d-%d)",
		n.cfg.MaxRounds, a.Name, propA.Amount, b.Name, propB.Amount, bounds.Min, bounds.Max)
	n.log.Infof("negotiation failed: %s", res.Reason)
	return res, nil
}

// think applies the per-round turn-taking delay without blocking other
// sessions; it returns early on context cancellation.
func (n *Negotiator) think(ctx context.Context) error {
	if n.cfg.ThinkTime <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(n.cfg.ThinkTime)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
