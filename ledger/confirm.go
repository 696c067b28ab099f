package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ConfirmPolicy bounds the receipt poll: MaxAttempts polls spaced Interval
// apart. The default (60 x 3s) gives roughly a three minute ceiling.
type ConfirmPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

// DefaultConfirmPolicy matches the primary ledger's typical inclusion time.
var DefaultConfirmPolicy = ConfirmPolicy{MaxAttempts: 60, Interval: 3 * time.Second}

func (p ConfirmPolicy) normalized() ConfirmPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultConfirmPolicy.MaxAttempts
	}
	if p.Interval <= 0 {
		p.Interval = DefaultConfirmPolicy.Interval
	}
	return p
}

// ReceiptFunc fetches the current receipt for a transaction, returning
// ErrReceiptNotFound while it is still pending.
type ReceiptFunc func(ctx context.Context) (*Receipt, error)

// Confirm polls fetch under the given policy until the transaction
// confirms, reverts, or the budget runs out. The three outcomes are
// distinct: a success receipt is returned as-is, a revert returns the
// receipt plus ErrTxReverted, and budget exhaustion returns
// ErrConfirmTimeout (wrapping the last network error, if polling never got
// an observation through).
func Confirm(ctx context.Context, fetch ReceiptFunc, policy ConfirmPolicy) (*Receipt, error) {
	policy = policy.normalized()

	var lastErr error
	observed := false
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(policy.Interval)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}

		r, err := fetch(ctx)
		switch {
		case err == nil && r != nil:
			observed = true
			switch r.Status {
			case StatusSuccess:
				return r, nil
			case StatusReverted:
				return r, fmt.Errorf("tx %s: %w", r.TxHash, ErrTxReverted)
			}
			// Pending: keep polling.
		case errors.Is(err, ErrReceiptNotFound):
			observed = true
		case err != nil:
			// Network fault; retry within budget.
			lastErr = err
		}
	}

	if !observed && lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfirmTimeout, lastErr)
	}
	return nil, ErrConfirmTimeout
}
