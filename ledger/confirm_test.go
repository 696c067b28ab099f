package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var fastPolicy = ConfirmPolicy{MaxAttempts: 5, Interval: time.Millisecond}

func TestConfirmSuccessAfterPending(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context) (*Receipt, error) {
		calls++
		if calls < 3 {
			return nil, ErrReceiptNotFound
		}
		return &Receipt{TxHash: "0xabc", Status: StatusSuccess, Block: 42}, nil
	}

	r, err := Confirm(context.Background(), fetch, fastPolicy)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	assert.Equal(t, StatusSuccess, r.Status)
	assert.Equal(t, uint64(42), r.Block)
	assert.Equal(t, 3, calls)
}

func TestConfirmRevertIsDistinctFromTimeout(t *testing.T) {
	fetch := func(ctx context.Context) (*Receipt, error) {
		return &Receipt{TxHash: "0xdead", Status: StatusReverted}, nil
	}

	r, err := Confirm(context.Background(), fetch, fastPolicy)
	assert.ErrorIs(t, err, ErrTxReverted)
	assert.NotErrorIs(t, err, ErrConfirmTimeout)
	assert.NotNil(t, r)
}

func TestConfirmTimeoutWhenAlwaysPending(t *testing.T) {
	fetch := func(ctx context.Context) (*Receipt, error) {
		return nil, ErrReceiptNotFound
	}

	_, err := Confirm(context.Background(), fetch, fastPolicy)
	assert.ErrorIs(t, err, ErrConfirmTimeout)
	assert.NotErrorIs(t, err, ErrTxReverted)
}

func TestConfirmSurfacesNetworkErrorOnExhaustion(t *testing.T) {
	netErr := errors.New("connection refused")
	fetch := func(ctx context.Context) (*Receipt, error) {
		return nil, netErr
	}

	_, err := Confirm(context.Background(), fetch, fastPolicy)
	assert.ErrorIs(t, err, ErrConfirmTimeout)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestConfirmHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetch := func(ctx context.Context) (*Receipt, error) {
		cancel()
		return nil, ErrReceiptNotFound
	}

	_, err := Confirm(ctx, fetch, ConfirmPolicy{MaxAttempts: 10, Interval: time.Hour})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfirmPendingStatusKeepsPolling(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context) (*Receipt, error) {
		calls++
		if calls < 2 {
			return &Receipt{TxHash: "0xabc", Status: StatusPending}, nil
		}
		return &Receipt{TxHash: "0xabc", Status: StatusSuccess}, nil
	}

	r, err := Confirm(context.Background(), fetch, fastPolicy)
	assert.NoError(t, err)
	assert.Equal(t, StatusSuccess, r.Status)
}
