package liquidator

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"VaultSentinel/internal/chain"
)

// TxBackend is the slice of the RPC client the executor needs to price,
// sign and land a transaction.
type TxBackend interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestFees(ctx context.Context) (*big.Int, *big.Int, error)
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	WaitMined(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)
}

const (
	fallbackGasLimit = 3_000_000
	minedTimeout     = 3 * time.Minute
)

// Executor signs and submits liquidation plans. Submission can go through a
// separate endpoint (a private relay) while reads stay on the main one.
type Executor struct {
	backend   TxBackend
	submitter TxBackend
	contracts *chain.Contracts
	key       *ecdsa.PrivateKey
	from      common.Address
	to        common.Address
	chainID   *big.Int
}

// NewExecutor parses the hex private key and wires the submission path.
// submitter may equal backend when no separate execution endpoint is set.
func NewExecutor(backend, submitter TxBackend, contracts *chain.Contracts, privateKeyHex string, liquidatorContract common.Address, chainID int64) (*Executor, error) {
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	if submitter == nil {
		submitter = backend
	}
	return &Executor{
		backend:   backend,
		submitter: submitter,
		contracts: contracts,
		key:       key,
		from:      crypto.PubkeyToAddress(key.PublicKey),
		to:        liquidatorContract,
		chainID:   big.NewInt(chainID),
	}, nil
}

func (x *Executor) From() common.Address { return x.from }

// Execute signs a plan, submits it and waits for the receipt. A failed or
// reverted transaction is reported and swallowed: the account stays on the
// schedule and will be retried on its next check.
func (x *Executor) Execute(ctx context.Context, plan *Plan) (*types.Receipt, []chain.LiquidationEvent) {
	tx, err := x.buildAndSign(ctx, plan)
	if err != nil {
		log.Printf("[ERROR] executor: building tx for %s: %v", plan.Params.Violator.Hex(), err)
		return nil, nil
	}

	if err := x.submitter.SendTransaction(ctx, tx); err != nil {
		log.Printf("[ERROR] executor: sending tx for %s: %v", plan.Params.Violator.Hex(), err)
		return nil, nil
	}
	log.Printf("[INFO] executor: sent liquidation tx %s for violator %s",
		tx.Hash().Hex(), plan.Params.Violator.Hex())

	receipt, err := x.backend.WaitMined(ctx, tx.Hash(), minedTimeout)
	if err != nil {
		log.Printf("[ERROR] executor: waiting for tx %s: %v", tx.Hash().Hex(), err)
		return nil, nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		log.Printf("[ERROR] executor: tx %s reverted in block %d", tx.Hash().Hex(), receipt.BlockNumber)
		return nil, nil
	}

	events := x.contracts.ParseLiquidationEvents(receipt)
	log.Printf("[INFO] executor: tx %s mined in block %d, %d liquidation event(s)",
		tx.Hash().Hex(), receipt.BlockNumber, len(events))
	return receipt, events
}

// GasCost prices a plan's execution: estimated gas times the current max
// fee. Used when profit accounting subtracts gas.
func (x *Executor) GasCost(ctx context.Context, plan *Plan) (*big.Int, error) {
	msg := ethereum.CallMsg{
		From:  x.from,
		To:    &x.to,
		Data:  plan.Calldata,
		Value: plan.Value,
	}
	gas, err := x.backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	maxFee, _, err := x.backend.SuggestFees(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest fees: %w", err)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(gas), maxFee), nil
}

func (x *Executor) buildAndSign(ctx context.Context, plan *Plan) (*types.Transaction, error) {
	nonce, err := x.backend.PendingNonce(ctx, x.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	maxFee, tip, err := x.backend.SuggestFees(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest fees: %w", err)
	}

	msg := ethereum.CallMsg{From: x.from, To: &x.to, Data: plan.Calldata, Value: plan.Value}
	gas, err := x.backend.EstimateGas(ctx, msg)
	if err != nil {
		log.Printf("[WARN] executor: gas estimate failed, using fallback %d: %v", fallbackGasLimit, err)
		gas = fallbackGasLimit
	} else {
		gas = gas + gas/5
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   x.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: maxFee,
		Gas:       gas,
		To:        &x.to,
		Value:     plan.Value,
		Data:      plan.Calldata,
	})
	return types.SignTx(tx, types.LatestSignerForChainID(x.chainID), x.key)
}
