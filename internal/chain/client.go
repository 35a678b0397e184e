package chain

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client wraps an ethclient connection with bounded retries on transport
// failures. One instance is shared by the monitor, reconciler and engine.
type Client struct {
	eth        *ethclient.Client
	retries    int
	retryDelay time.Duration
}

// Dial connects to the RPC endpoint and verifies the chain id matches.
func Dial(ctx context.Context, rawURL string, wantChainID int64, retries int, retryDelay time.Duration) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	id, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	if wantChainID != 0 && id.Int64() != wantChainID {
		return nil, fmt.Errorf("rpc chain id %d, config expects %d", id.Int64(), wantChainID)
	}
	if retries < 1 {
		retries = 1
	}
	return &Client{eth: eth, retries: retries, retryDelay: retryDelay}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// BlockNumber returns the current head block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.withRetry(ctx, "blockNumber", func() error {
		var err error
		n, err = c.eth.BlockNumber(ctx)
		return err
	})
	return n, err
}

// FilterLogs runs a log filter query with retries.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.withRetry(ctx, "getLogs", func() error {
		var err error
		logs, err = c.eth.FilterLogs(ctx, q)
		return err
	})
	return logs, err
}

// Call performs an eth_call against to with the given calldata. A non-nil
// value is attached for simulate-with-update reads that pay an oracle fee.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte, value *big.Int) ([]byte, error) {
	msg := ethereum.CallMsg{To: &to, Data: data, Value: value}
	var out []byte
	err := c.withRetry(ctx, "call", func() error {
		var err error
		out, err = c.eth.CallContract(ctx, msg, nil)
		return err
	})
	return out, err
}

// EstimateGas estimates gas for the given message.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return c.eth.EstimateGas(ctx, msg)
}

// SuggestFees returns (maxFeePerGas, maxPriorityFeePerGas) for an EIP-1559
// transaction: head base fee plus the suggested tip.
func (c *Client) SuggestFees(ctx context.Context) (*big.Int, *big.Int, error) {
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("head header: %w", err)
	}
	tip, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("suggest tip: %w", err)
	}
	maxFee := new(big.Int).Add(head.BaseFee, tip)
	return maxFee, tip, nil
}

// PendingNonce returns the next nonce for an address.
func (c *Client) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	return c.eth.PendingNonceAt(ctx, addr)
}

// SendTransaction submits a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.eth.SendTransaction(ctx, tx)
}

// WaitMined polls for the receipt of a submitted transaction.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait mined %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if err := fn(); err != nil {
			lastErr = err
			if attempt == c.retries {
				break
			}
			log.Printf("[WARN] rpc %s failed (attempt %d/%d): %v, retrying in %v",
				op, attempt, c.retries, err, c.retryDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("rpc %s: all %d attempts failed: %w", op, c.retries, lastErr)
}
