package liquidator

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"VaultSentinel/internal/chain"
	"VaultSentinel/internal/model"
	"VaultSentinel/internal/notifier"
)

// ChainReader is the slice of contract reads the engine needs.
type ChainReader interface {
	Collaterals(ctx context.Context, account common.Address) ([]common.Address, error)
	CheckLiquidation(ctx context.Context, vault, liquidator, violator, collateral common.Address) (*big.Int, *big.Int, error)
	SimulateCheckLiquidation(ctx context.Context, updateData []byte, updateFee *big.Int, vault, liquidator, violator, collateral common.Address) (*big.Int, *big.Int, error)
	ConvertToAssets(ctx context.Context, vault common.Address, shares *big.Int) (*big.Int, error)
	VaultAsset(ctx context.Context, vault common.Address) (common.Address, error)
}

// FeedResolver resolves pull-oracle dependencies and produces update payloads.
type FeedResolver interface {
	FeedIDs(ctx context.Context, v *model.Vault) ([]string, error)
	UpdateData(ctx context.Context, feedIDs []string) ([]byte, error)
	UpdateFee(ctx context.Context, updateData []byte) (*big.Int, error)
}

// QuoteSource finds swap amounts and executable swap payloads.
type QuoteSource interface {
	FindAmountIn(ctx context.Context, assetIn, assetOut common.Address, available, targetOut *big.Int) (*big.Int, *big.Int, error)
	SwapCalldata(ctx context.Context, assetIn, assetOut common.Address, amountIn *big.Int, from, origin, receiver common.Address, slippagePct float64) ([]byte, error)
}

// GasPricer prices a plan's execution cost in wei.
type GasPricer interface {
	GasCost(ctx context.Context, plan *Plan) (*big.Int, error)
}

// Plan is a fully assembled liquidation: the periphery call plus profit
// bookkeeping. Value is non-zero when a pull-oracle update fee must ride
// along.
type Plan struct {
	Params     chain.LiquidationParams
	UpdateData []byte
	Calldata   []byte
	Value      *big.Int

	AmountIn  *big.Int // collateral sold to cover maxRepay
	Leftover  *big.Int // collateral kept after the swap
	ProfitETH *big.Int // leftover valued in the reference asset
	Profit    *big.Int // net figure used for the best-of comparison
}

// Config holds the engine's addresses and tuning.
type Config struct {
	LiquidatorContract common.Address
	LiquidatorEOA      common.Address
	ProfitReceiver     common.Address
	Swapper            common.Address
	WETH               common.Address
	SafetyMarginPct    float64
	SlippagePct        float64
	SubtractGasCost    bool
	ErrorCooldown      time.Duration
}

// Engine finds the single most profitable liquidation for an unhealthy
// account, or determines that none is profitable.
type Engine struct {
	reader   ChainReader
	resolver FeedResolver
	quotes   QuoteSource
	notify   notifier.Notifier
	cfg      Config
	gas      GasPricer

	mu            sync.Mutex
	lastErrorPost map[common.Address]time.Time
}

func NewEngine(reader ChainReader, resolver FeedResolver, quotes QuoteSource, notify notifier.Notifier, cfg Config) *Engine {
	if cfg.ErrorCooldown == 0 {
		cfg.ErrorCooldown = 30 * time.Minute
	}
	return &Engine{
		reader:        reader,
		resolver:      resolver,
		quotes:        quotes,
		notify:        notify,
		cfg:           cfg,
		lastErrorPost: make(map[common.Address]time.Time),
	}
}

// SetGasPricer enables gas-cost subtraction from plan profits. Without one
// the SubtractGasCost setting has no effect.
func (e *Engine) SetGasPricer(g GasPricer) { e.gas = g }

// Simulate evaluates every collateral the violator has enabled and returns
// the plan with the strictly greatest profit, or (nil, false) when nothing
// clears zero. One collateral failing never aborts the rest.
func (e *Engine) Simulate(ctx context.Context, vault *model.Vault, violator common.Address) (*Plan, bool, error) {
	collaterals, err := e.reader.Collaterals(ctx, violator)
	if err != nil {
		return nil, false, fmt.Errorf("collaterals of %s: %w", violator.Hex(), err)
	}

	var best *Plan
	for _, collateralVault := range collaterals {
		plan, err := e.evaluate(ctx, vault, violator, collateralVault)
		if err != nil {
			log.Printf("[ERROR] engine: evaluating %s collateral %s: %v",
				violator.Hex(), collateralVault.Hex(), err)
			e.postErrorRateLimited(violator, fmt.Errorf("collateral %s: %w", collateralVault.Hex(), err))
			continue
		}
		if plan == nil {
			continue
		}
		if best == nil || plan.Profit.Cmp(best.Profit) > 0 {
			best = plan
		}
	}

	if best == nil || best.Profit.Sign() <= 0 {
		return nil, false, nil
	}
	log.Printf("[INFO] engine: profitable liquidation for %s: collateral %s, profit %s wei",
		violator.Hex(), best.Params.CollateralVault.Hex(), best.Profit)
	return best, true, nil
}

// evaluate prices the liquidation of one collateral. A zero maxRepay or
// seized amount means this collateral cannot liquidate the account and
// yields a nil plan, not an error.
func (e *Engine) evaluate(ctx context.Context, vault *model.Vault, violator, collateralVault common.Address) (*Plan, error) {
	maxRepay, seizedShares, err := e.checkLiquidation(ctx, vault, violator, collateralVault)
	if err != nil {
		return nil, err
	}
	if maxRepay.Sign() == 0 || seizedShares.Sign() == 0 {
		log.Printf("[INFO] engine: max repay %s, seized shares %s, liquidation not possible via %s",
			maxRepay, seizedShares, collateralVault.Hex())
		return nil, nil
	}

	collateralAsset, err := e.reader.VaultAsset(ctx, collateralVault)
	if err != nil {
		return nil, fmt.Errorf("collateral underlying: %w", err)
	}
	seizedAssets, err := e.reader.ConvertToAssets(ctx, collateralVault, seizedShares)
	if err != nil {
		return nil, fmt.Errorf("convert shares: %w", err)
	}

	// Hold back a safety margin so the swap can never consume more
	// collateral than was actually seized.
	maxSwap := pctOf(seizedAssets, 100-e.cfg.SafetyMarginPct)

	amountIn, amountOut, err := e.quotes.FindAmountIn(ctx, collateralAsset, vault.Asset, maxSwap, maxRepay)
	if err != nil {
		return nil, fmt.Errorf("swap quote: %w", err)
	}
	if amountOut.Cmp(maxRepay) < 0 {
		return nil, fmt.Errorf("quote output %s below max repay %s", amountOut, maxRepay)
	}

	leftover := new(big.Int).Sub(seizedAssets, amountIn)
	if leftover.Sign() < 0 {
		return nil, fmt.Errorf("negative leftover %s after swap, aborting attempt", leftover)
	}

	profitETH, err := e.valueInReferenceAsset(ctx, collateralAsset, leftover)
	if err != nil {
		return nil, fmt.Errorf("value leftover: %w", err)
	}

	swapData, err := e.quotes.SwapCalldata(ctx, collateralAsset, vault.Asset, amountIn,
		e.cfg.Swapper, e.cfg.LiquidatorEOA, e.cfg.Swapper, e.cfg.SlippagePct)
	if err != nil {
		return nil, fmt.Errorf("swap calldata: %w", err)
	}

	params := chain.LiquidationParams{
		Violator:               violator,
		Vault:                  vault.Address,
		BorrowedAsset:          vault.Asset,
		CollateralVault:        collateralVault,
		CollateralAsset:        collateralAsset,
		MaxRepay:               maxRepay,
		SeizedCollateralShares: seizedShares,
		SwapData:               swapData,
		Receiver:               e.cfg.ProfitReceiver,
	}

	var updateData []byte
	value := new(big.Int)
	feedIDs, err := e.resolver.FeedIDs(ctx, vault)
	if err != nil {
		return nil, fmt.Errorf("resolve feeds: %w", err)
	}
	if len(feedIDs) > 0 {
		updateData, err = e.resolver.UpdateData(ctx, feedIDs)
		if err != nil {
			return nil, fmt.Errorf("update data: %w", err)
		}
		value, err = e.resolver.UpdateFee(ctx, updateData)
		if err != nil {
			return nil, fmt.Errorf("update fee: %w", err)
		}
	}

	calldata, err := chain.PackLiquidation(params, updateData)
	if err != nil {
		return nil, fmt.Errorf("pack liquidation: %w", err)
	}

	plan := &Plan{
		Params:     params,
		UpdateData: updateData,
		Calldata:   calldata,
		Value:      value,
		AmountIn:   amountIn,
		Leftover:   leftover,
		ProfitETH:  profitETH,
		Profit:     new(big.Int).Set(profitETH),
	}
	if e.cfg.SubtractGasCost && e.gas != nil {
		cost, err := e.gas.GasCost(ctx, plan)
		if err != nil {
			log.Printf("[WARN] engine: gas cost estimate failed, using gross profit: %v", err)
		} else {
			plan.Profit.Sub(plan.Profit, cost)
		}
	}
	return plan, nil
}

// checkLiquidation routes through the pull-oracle simulation when the vault
// has pull feeds, and the plain on-chain read otherwise.
func (e *Engine) checkLiquidation(ctx context.Context, vault *model.Vault, violator, collateralVault common.Address) (*big.Int, *big.Int, error) {
	feedIDs, err := e.resolver.FeedIDs(ctx, vault)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve feeds: %w", err)
	}
	if len(feedIDs) == 0 {
		return e.reader.CheckLiquidation(ctx, vault.Address, e.cfg.LiquidatorEOA, violator, collateralVault)
	}

	updateData, err := e.resolver.UpdateData(ctx, feedIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("update data: %w", err)
	}
	fee, err := e.resolver.UpdateFee(ctx, updateData)
	if err != nil {
		return nil, nil, fmt.Errorf("update fee: %w", err)
	}
	return e.reader.SimulateCheckLiquidation(ctx, updateData, fee, vault.Address, e.cfg.LiquidatorEOA, violator, collateralVault)
}

// valueInReferenceAsset converts a leftover collateral amount into WETH
// terms, the profit proxy all collaterals are compared in.
func (e *Engine) valueInReferenceAsset(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error) {
	if amount.Sign() == 0 {
		return new(big.Int), nil
	}
	if asset == e.cfg.WETH {
		return new(big.Int).Set(amount), nil
	}
	_, out, err := e.quotes.FindAmountIn(ctx, asset, e.cfg.WETH, amount, nil)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) postErrorRateLimited(violator common.Address, err error) {
	e.mu.Lock()
	last, ok := e.lastErrorPost[violator]
	post := !ok || time.Since(last) > e.cfg.ErrorCooldown
	if post {
		e.lastErrorPost[violator] = time.Now()
	}
	e.mu.Unlock()
	if post {
		e.notify.Error(fmt.Sprintf("simulating liquidation for %s", violator.Hex()), err)
	}
}

func pctOf(x *big.Int, pct float64) *big.Int {
	f := new(big.Float).Mul(new(big.Float).SetInt(x), big.NewFloat(pct/100))
	r, _ := f.Int(nil)
	return r
}
