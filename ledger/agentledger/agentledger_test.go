package agentledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeployEscrowRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/escrow/deploy", r.URL.Path)
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		assert.Equal(t, float64(5), req["stakeAmount"])
		json.NewEncoder(w).Encode(map[string]string{
			"contractId": "esc-1",
			"txId":       "agent-tx-1",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	res, err := c.DeployEscrow(context.Background(), 5, "addr1", "addr2")
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	assert.Equal(t, "esc-1", res.EscrowID)
	assert.Equal(t, "agent-tx-1", res.TxID)
}

func TestAgentErrorEnvelopeSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "escrow not found"})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	_, err := c.EscrowStatus(context.Background(), "nope")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "escrow not found")
}

func TestDeployRejectsEmptyEscrowID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"txId": "t"})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	_, err := c.DeployEscrow(context.Background(), 5, "a", "b")
	assert.Error(t, err)
}

func TestRefundStakesPostsToRefundPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	err := c.RefundStakes(context.Background(), "esc-9")
	assert.NoError(t, err)
	assert.Equal(t, "/escrow/esc-9/refund", gotPath)
}
