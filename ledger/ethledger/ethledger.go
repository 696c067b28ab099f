// Package ethledger implements the primary ledger client against the wager
// contract on an EVM chain. It signs locally and submits over JSON-RPC; the
// caller drives confirmation via ledger.Confirm.
package ethledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/decred/slog"
	"github.com/vctt94/gridwager/ledger"
)

// wagerABI is the subset of the wager contract surface this client consumes.
const wagerABI = `[
  {"type":"function","name":"createGame","inputs":[{"name":"player1","type":"address"},{"name":"player2","type":"address"}],"outputs":[]},
  {"type":"function","name":"stake","inputs":[{"name":"gameId","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"declareWinner","inputs":[{"name":"gameId","type":"uint256"},{"name":"winner","type":"address"}],"outputs":[]},
  {"type":"function","name":"games","stateMutability":"view","inputs":[{"name":"gameId","type":"uint256"}],"outputs":[
    {"name":"player1","type":"address"},
    {"name":"player2","type":"address"},
    {"name":"stake1","type":"uint256"},
    {"name":"stake2","type":"uint256"},
    {"name":"player1Staked","type":"bool"},
    {"name":"player2Staked","type":"bool"},
    {"name":"started","type":"bool"},
    {"name":"ended","type":"bool"},
    {"name":"winner","type":"address"}]},
  {"type":"event","name":"GameCreated","inputs":[
    {"name":"gameId","type":"uint256","indexed":true},
    {"name":"player1","type":"address","indexed":true},
    {"name":"player2","type":"address","indexed":true}]}
]`

// erc20ABI covers the allowance grant required before staking.
const erc20ABI = `[
  {"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

const fallbackGasLimit = 300_000

// Config wires a Client to one wager contract and its stake token.
type Config struct {
	RPCURL       string
	ContractAddr string
	TokenAddr    string
	PrivKeyHex   string
	ChainID      int64
	// TokenDecimals converts whole stake units to base units. Defaults to 6
	// (stable-value tokens).
	TokenDecimals int
	Log           slog.Logger
}

// Client implements ledger.PrimaryLedger over an EVM JSON-RPC endpoint.
type Client struct {
	ec       *ethclient.Client
	wager    abi.ABI
	erc20    abi.ABI
	contract common.Address
	token    common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	decimals int
	log      slog.Logger
}

var _ ledger.PrimaryLedger = (*Client)(nil)

func New(ctx context.Context, cfg Config) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	wager, err := abi.JSON(strings.NewReader(wagerABI))
	if err != nil {
		return nil, fmt.Errorf("parse wager abi: %w", err)
	}
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	decimals := cfg.TokenDecimals
	if decimals <= 0 {
		decimals = 6
	}
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	return &Client{
		ec:       ec,
		wager:    wager,
		erc20:    erc20,
		contract: common.HexToAddress(cfg.ContractAddr),
		token:    common.HexToAddress(cfg.TokenAddr),
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  big.NewInt(cfg.ChainID),
		decimals: decimals,
		log:      log,
	}, nil
}

func (c *Client) Close() {
	c.ec.Close()
}

// toBaseUnits scales a whole-unit stake by the token's decimals.
func (c *Client) toBaseUnits(amount int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.decimals)), nil)
	return new(big.Int).Mul(big.NewInt(amount), scale)
}

func (c *Client) fromBaseUnits(v *big.Int) int64 {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.decimals)), nil)
	return new(big.Int).Div(v, scale).Int64()
}

// submit signs and sends calldata to the given address, returning the tx
// hash.
func (c *Client) submit(ctx context.Context, to common.Address, data []byte) (string, error) {
	nonce, err := c.ec.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := c.ec.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gas price: %w", err)
	}
	gasLimit, err := c.ec.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data})
	if err != nil {
		gasLimit = fallbackGasLimit
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := c.ec.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}
	h := signed.Hash().Hex()
	c.log.Debugf("submitted tx %s to %s (nonce %d)", h, to.Hex(), nonce)
	return h, nil
}

func (c *Client) Approve(ctx context.Context, amount int64) (string, error) {
	data, err := c.erc20.Pack("approve", c.contract, c.toBaseUnits(amount))
	if err != nil {
		return "", fmt.Errorf("pack approve: %w", err)
	}
	return c.submit(ctx, c.token, data)
}

func (c *Client) CreateGame(ctx context.Context, player1, player2 string) (string, error) {
	data, err := c.wager.Pack("createGame", common.HexToAddress(player1), common.HexToAddress(player2))
	if err != nil {
		return "", fmt.Errorf("pack createGame: %w", err)
	}
	return c.submit(ctx, c.contract, data)
}

// CreatedGameID pulls the new game id out of the GameCreated event in a
// confirmed creation receipt.
func (c *Client) CreatedGameID(ctx context.Context, txHash string) (string, error) {
	r, err := c.ec.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return "", fmt.Errorf("receipt %s: %w", txHash, err)
	}
	topic := c.wager.Events["GameCreated"].ID
	for _, lg := range r.Logs {
		if lg.Address != c.contract || len(lg.Topics) < 2 || lg.Topics[0] != topic {
			continue
		}
		return new(big.Int).SetBytes(lg.Topics[1].Bytes()).String(), nil
	}
	return "", fmt.Errorf("tx %s: no GameCreated event", txHash)
}

func (c *Client) Stake(ctx context.Context, gameID string, amount int64) (string, error) {
	id, ok := new(big.Int).SetString(gameID, 10)
	if !ok {
		return "", fmt.Errorf("bad game id %q", gameID)
	}
	data, err := c.wager.Pack("stake", id, c.toBaseUnits(amount))
	if err != nil {
		return "", fmt.Errorf("pack stake: %w", err)
	}
	return c.submit(ctx, c.contract, data)
}

func (c *Client) DeclareWinner(ctx context.Context, gameID, winnerAddr string) (string, error) {
	id, ok := new(big.Int).SetString(gameID, 10)
	if !ok {
		return "", fmt.Errorf("bad game id %q", gameID)
	}
	data, err := c.wager.Pack("declareWinner", id, common.HexToAddress(winnerAddr))
	if err != nil {
		return "", fmt.Errorf("pack declareWinner: %w", err)
	}
	return c.submit(ctx, c.contract, data)
}

func (c *Client) Receipt(ctx context.Context, txHash string) (*ledger.Receipt, error) {
	r, err := c.ec.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err == ethereum.NotFound {
		return nil, ledger.ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}
	status := ledger.StatusReverted
	if r.Status == types.ReceiptStatusSuccessful {
		status = ledger.StatusSuccess
	}
	return &ledger.Receipt{
		TxHash: txHash,
		Status: status,
		Block:  r.BlockNumber.Uint64(),
	}, nil
}

func (c *Client) Game(ctx context.Context, gameID string) (*ledger.GameInfo, error) {
	id, ok := new(big.Int).SetString(gameID, 10)
	if !ok {
		return nil, fmt.Errorf("bad game id %q", gameID)
	}
	data, err := c.wager.Pack("games", id)
	if err != nil {
		return nil, fmt.Errorf("pack games: %w", err)
	}
	out, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call games: %w", err)
	}
	vals, err := c.wager.Unpack("games", out)
	if err != nil {
		return nil, fmt.Errorf("unpack games: %w", err)
	}
	if len(vals) != 9 {
		return nil, fmt.Errorf("games returned %d values", len(vals))
	}
	return &ledger.GameInfo{
		GameID:        gameID,
		Player1:       vals[0].(common.Address).Hex(),
		Player2:       vals[1].(common.Address).Hex(),
		Stake1:        c.fromBaseUnits(vals[2].(*big.Int)),
		Stake2:        c.fromBaseUnits(vals[3].(*big.Int)),
		Player1Staked: vals[4].(bool),
		Player2Staked: vals[5].(bool),
		Started:       vals[6].(bool),
		Ended:         vals[7].(bool),
		Winner:        vals[8].(common.Address).Hex(),
	}, nil
}
