// Package agentledger talks to the escrow agent process that fronts the
// fast-finality secondary ledger. The agent exposes a small JSON-over-HTTP
// surface; every call settles synchronously from this client's point of
// view, so there is no receipt polling here.
package agentledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/decred/slog"
	"github.com/vctt94/gridwager/ledger"
)

const defaultTimeout = 30 * time.Second

// Client implements ledger.SecondaryLedger against the escrow agent's HTTP
// API.
type Client struct {
	base string
	hc   *http.Client
	log  slog.Logger
}

var _ ledger.SecondaryLedger = (*Client)(nil)

func New(baseURL string, log slog.Logger) *Client {
	if log == nil {
		log = slog.Disabled
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Timeout: defaultTimeout},
		log:  log,
	}
}

// agentError is the agent's error envelope.
type agentError struct {
	Error string `json:"error"`
}

// post sends a JSON body and decodes the JSON response into out (which may
// be nil for calls with no interesting response body).
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("agent %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("agent %s: read response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		var ae agentError
		if json.Unmarshal(raw, &ae) == nil && ae.Error != "" {
			return fmt.Errorf("agent %s: %s (status %d)", path, ae.Error, resp.StatusCode)
		}
		return fmt.Errorf("agent %s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("agent %s: decode response: %w", path, err)
	}
	return nil
}

func (c *Client) DeployEscrow(ctx context.Context, stake int64, player1, player2 string) (*ledger.DeployResult, error) {
	req := struct {
		StakeAmount int64  `json:"stakeAmount"`
		Player1     string `json:"player1"`
		Player2     string `json:"player2"`
	}{stake, player1, player2}

	var res ledger.DeployResult
	if err := c.post(ctx, "/escrow/deploy", req, &res); err != nil {
		return nil, err
	}
	if res.EscrowID == "" {
		return nil, fmt.Errorf("agent returned empty escrow id")
	}
	c.log.Debugf("deployed escrow %s (tx %s)", res.EscrowID, res.TxID)
	return &res, nil
}

func (c *Client) DepositStake(ctx context.Context, escrowID, player string, amount int64) (*ledger.DepositResult, error) {
	req := struct {
		Player string `json:"player"`
		Amount int64  `json:"amount"`
	}{player, amount}

	var res ledger.DepositResult
	if err := c.post(ctx, "/escrow/"+escrowID+"/deposit", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) ReleaseToWinner(ctx context.Context, escrowID, winnerAddr string) (*ledger.ReleaseResult, error) {
	req := struct {
		Winner string `json:"winner"`
	}{winnerAddr}

	var res ledger.ReleaseResult
	if err := c.post(ctx, "/escrow/"+escrowID+"/release", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) RefundStakes(ctx context.Context, escrowID string) error {
	return c.post(ctx, "/escrow/"+escrowID+"/refund", nil, nil)
}

func (c *Client) EscrowStatus(ctx context.Context, escrowID string) (*ledger.EscrowStatus, error) {
	var res ledger.EscrowStatus
	if err := c.get(ctx, "/escrow/"+escrowID, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
