// Package evm implements chain.Reader against an Ethereum JSON-RPC
// endpoint using go-ethereum's ethclient.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/paymnee/paygate/internal/core/domain"
	"github.com/paymnee/paygate/internal/infra/chain"
	"github.com/paymnee/paygate/internal/metrics"
)

// keccak256("Transfer(address,address,uint256)")
var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

const erc20ABI = `[{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}]`

// Config holds the chain endpoint and token contract settings.
type Config struct {
	RPCURL string `yaml:"rpc_url"`
	// TokenAddress is the ERC-20 contract whose transfers are payments.
	TokenAddress string `yaml:"token_address"`
	// Decimals overrides the on-chain decimals() call when non-zero.
	Decimals int32 `yaml:"decimals"`
	// CallTimeout bounds each RPC call.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// Client is a read-only token-transfer view over one RPC endpoint and
// one token contract. A single Client is shared by the whole process.
type Client struct {
	eth         *ethclient.Client
	token       common.Address
	tokenABI    abi.ABI
	callTimeout time.Duration

	decimalsMu sync.Mutex
	decimals   int32
	hasDecs    bool
}

var _ chain.Reader = (*Client)(nil)

// NewClient dials the RPC endpoint and validates the token address.
func NewClient(cfg Config) (*Client, error) {
	if !common.IsHexAddress(cfg.TokenAddress) {
		return nil, fmt.Errorf("invalid token address %q", cfg.TokenAddress)
	}

	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC-20 ABI: %w", err)
	}

	timeout := cfg.CallTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		eth:         eth,
		token:       common.HexToAddress(cfg.TokenAddress),
		tokenABI:    parsed,
		callTimeout: timeout,
	}
	if cfg.Decimals > 0 {
		c.decimals = cfg.Decimals
		c.hasDecs = true
	}
	return c, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// ReceiptByHash implements chain.Reader.
func (c *Client) ReceiptByHash(ctx context.Context, txHash string) (*chain.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	start := time.Now()
	receipt, err := c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
	metrics.RPCLatency.WithLabelValues("eth_getTransactionReceipt").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, chain.ErrReceiptNotFound
		}
		metrics.RPCErrorsTotal.WithLabelValues("eth_getTransactionReceipt").Inc()
		return nil, fmt.Errorf("eth_getTransactionReceipt failed: %w", err)
	}

	return &chain.Receipt{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		Reverted:    receipt.Status == ethtypes.ReceiptStatusFailed,
	}, nil
}

// FilterTransfers implements chain.Reader. It queries the token
// contract's logs for Transfer events with the indexed recipient (and
// sender, when set) inside the filter's block range.
func (c *Client) FilterTransfers(ctx context.Context, f chain.TransferFilter) ([]domain.Transfer, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	recipient, err := domain.NormalizeAddress(f.Recipient)
	if err != nil {
		return nil, fmt.Errorf("transfer filter recipient: %w", err)
	}

	topics := [][]common.Hash{
		{transferTopic},
		nil, // sender wildcard unless narrowed below
		{addressTopic(recipient)},
	}
	if f.Sender != "" {
		sender, err := domain.NormalizeAddress(f.Sender)
		if err != nil {
			return nil, fmt.Errorf("transfer filter sender: %w", err)
		}
		topics[1] = []common.Hash{addressTopic(sender)}
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(f.FromBlock),
		ToBlock:   new(big.Int).SetUint64(f.ToBlock),
		Addresses: []common.Address{c.token},
		Topics:    topics,
	}

	start := time.Now()
	logs, err := c.eth.FilterLogs(ctx, query)
	metrics.RPCLatency.WithLabelValues("eth_getLogs").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RPCErrorsTotal.WithLabelValues("eth_getLogs").Inc()
		return nil, fmt.Errorf("eth_getLogs failed: %w", err)
	}

	transfers := make([]domain.Transfer, 0, len(logs))
	for _, l := range logs {
		t, err := decodeTransfer(l)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, nil
}

// decodeTransfer unpacks one Transfer log: indexed from/to in
// topics[1]/topics[2], amount in the data word.
func decodeTransfer(l ethtypes.Log) (domain.Transfer, error) {
	if len(l.Topics) < 3 {
		return domain.Transfer{}, fmt.Errorf("malformed transfer log in tx %s: %d topics", l.TxHash.Hex(), len(l.Topics))
	}
	if len(l.Data) != 32 {
		return domain.Transfer{}, fmt.Errorf("malformed transfer log in tx %s: %d data bytes", l.TxHash.Hex(), len(l.Data))
	}
	return domain.Transfer{
		TxHash:      strings.ToLower(l.TxHash.Hex()),
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
		From:        topicAddress(l.Topics[1]),
		To:          topicAddress(l.Topics[2]),
		Amount:      new(big.Int).SetBytes(l.Data),
	}, nil
}

// TokenDecimals implements chain.Reader. The value is read once from
// the contract and cached; config may pin it instead.
func (c *Client) TokenDecimals(ctx context.Context) (int32, error) {
	c.decimalsMu.Lock()
	defer c.decimalsMu.Unlock()
	if c.hasDecs {
		return c.decimals, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	data, err := c.tokenABI.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("failed to pack decimals call: %w", err)
	}
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.token, Data: data}, nil)
	if err != nil {
		metrics.RPCErrorsTotal.WithLabelValues("eth_call").Inc()
		return 0, fmt.Errorf("decimals() call failed: %w", err)
	}

	out, err := c.tokenABI.Unpack("decimals", raw)
	if err != nil || len(out) != 1 {
		return 0, fmt.Errorf("failed to decode decimals() result: %w", err)
	}
	decs, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals() type %T", out[0])
	}

	c.decimals = int32(decs)
	c.hasDecs = true
	return c.decimals, nil
}

// LatestBlock implements chain.Reader.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		metrics.RPCErrorsTotal.WithLabelValues("eth_blockNumber").Inc()
		return 0, fmt.Errorf("eth_blockNumber failed: %w", err)
	}
	return n, nil
}

// addressTopic left-pads an address into a 32-byte topic.
func addressTopic(addr string) common.Hash {
	return common.BytesToHash(common.HexToAddress(addr).Bytes())
}

// topicAddress recovers the address packed into an indexed topic.
func topicAddress(topic common.Hash) string {
	return strings.ToLower(common.BytesToAddress(topic.Bytes()).Hex())
}
