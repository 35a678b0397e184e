package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Hand-declared minimal ABIs: only the entry points the bot touches.

const evaultABIJSON = `[
{"type":"function","name":"asset","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
{"type":"function","name":"oracle","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
{"type":"function","name":"unitOfAccount","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
{"type":"function","name":"LTVList","stateMutability":"view","inputs":[],"outputs":[{"type":"address[]"}]},
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"type":"uint256"}]},
{"type":"function","name":"accountLiquidity","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"liquidation","type":"bool"}],"outputs":[{"name":"collateralValue","type":"uint256"},{"name":"liabilityValue","type":"uint256"}]},
{"type":"function","name":"checkLiquidation","stateMutability":"view","inputs":[{"name":"liquidator","type":"address"},{"name":"violator","type":"address"},{"name":"collateral","type":"address"}],"outputs":[{"name":"maxRepay","type":"uint256"},{"name":"maxYield","type":"uint256"}]},
{"type":"function","name":"convertToAssets","stateMutability":"view","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"type":"uint256"}]}
]`

const evcABIJSON = `[
{"type":"function","name":"getCollaterals","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"type":"address[]"}]},
{"type":"function","name":"getAccountOwner","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"type":"address"}]},
{"type":"event","name":"AccountStatusCheck","inputs":[{"name":"account","type":"address","indexed":true},{"name":"controller","type":"address","indexed":true}]}
]`

const oracleABIJSON = `[
{"type":"function","name":"getConfiguredOracle","stateMutability":"view","inputs":[{"name":"base","type":"address"},{"name":"quote","type":"address"}],"outputs":[{"type":"address"}]},
{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
{"type":"function","name":"feedId","stateMutability":"view","inputs":[],"outputs":[{"type":"bytes32"}]},
{"type":"function","name":"oracleBaseCross","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
{"type":"function","name":"oracleCrossQuote","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]}
]`

const pythABIJSON = `[
{"type":"function","name":"getUpdateFee","stateMutability":"view","inputs":[{"name":"updateData","type":"bytes[]"}],"outputs":[{"type":"uint256"}]}
]`

const liquidatorABIJSON = `[
{"type":"function","name":"liquidateSingleCollateral","stateMutability":"nonpayable","inputs":[{"name":"params","type":"tuple","components":[{"name":"violator","type":"address"},{"name":"vault","type":"address"},{"name":"borrowedAsset","type":"address"},{"name":"collateralVault","type":"address"},{"name":"collateralAsset","type":"address"},{"name":"maxRepay","type":"uint256"},{"name":"seizedCollateralShares","type":"uint256"},{"name":"swapData","type":"bytes"},{"name":"receiver","type":"address"}]}],"outputs":[]},
{"type":"function","name":"liquidateSingleCollateralWithPythOracle","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[{"name":"violator","type":"address"},{"name":"vault","type":"address"},{"name":"borrowedAsset","type":"address"},{"name":"collateralVault","type":"address"},{"name":"collateralAsset","type":"address"},{"name":"maxRepay","type":"uint256"},{"name":"seizedCollateralShares","type":"uint256"},{"name":"swapData","type":"bytes"},{"name":"receiver","type":"address"}]},{"name":"updateData","type":"bytes[]"}],"outputs":[]},
{"type":"function","name":"simulatePythUpdateAndGetAccountStatus","stateMutability":"payable","inputs":[{"name":"updateData","type":"bytes[]"},{"name":"updateFee","type":"uint256"},{"name":"vault","type":"address"},{"name":"account","type":"address"}],"outputs":[{"name":"collateralValue","type":"uint256"},{"name":"liabilityValue","type":"uint256"}]},
{"type":"function","name":"simulatePythUpdateAndCheckLiquidation","stateMutability":"payable","inputs":[{"name":"updateData","type":"bytes[]"},{"name":"updateFee","type":"uint256"},{"name":"vault","type":"address"},{"name":"liquidator","type":"address"},{"name":"violator","type":"address"},{"name":"collateral","type":"address"}],"outputs":[{"name":"maxRepay","type":"uint256"},{"name":"seizedCollateral","type":"uint256"}]},
{"type":"event","name":"Liquidation","inputs":[{"name":"violator","type":"address","indexed":true},{"name":"vault","type":"address","indexed":true},{"name":"collateralVault","type":"address","indexed":false},{"name":"repayAmount","type":"uint256","indexed":false},{"name":"seizedCollateralShares","type":"uint256","indexed":false}]}
]`

var (
	evaultABI        = mustABI(evaultABIJSON)
	evcABI           = mustABI(evcABIJSON)
	oracleABI        = mustABI(oracleABIJSON)
	pythABI          = mustABI(pythABIJSON)
	liquidatorABI    = mustABI(liquidatorABIJSON)
	statusCheckTopic = evcABI.Events["AccountStatusCheck"].ID
	liquidationTopic = liquidatorABI.Events["Liquidation"].ID
)

func mustABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return a
}

// LiquidationParams mirrors the periphery liquidator's call tuple.
type LiquidationParams struct {
	Violator               common.Address
	Vault                  common.Address
	BorrowedAsset          common.Address
	CollateralVault        common.Address
	CollateralAsset        common.Address
	MaxRepay               *big.Int
	SeizedCollateralShares *big.Int
	SwapData               []byte
	Receiver               common.Address
}

// LiquidationEvent is the decoded periphery Liquidation log.
type LiquidationEvent struct {
	Violator               common.Address
	Vault                  common.Address
	CollateralVault        common.Address
	RepayAmount            *big.Int
	SeizedCollateralShares *big.Int
}

// Contracts exposes typed reads and calldata builders for the protocol
// contracts, backed by one shared Client.
type Contracts struct {
	Client     *Client
	EVC        common.Address
	Liquidator common.Address
	Pyth       common.Address
}

func (c *Contracts) viewCall(ctx context.Context, a abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.Client.Call(ctx, to, data, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	res, err := a.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return res, nil
}

// --- EVault reads ---

func (c *Contracts) VaultAsset(ctx context.Context, vault common.Address) (common.Address, error) {
	res, err := c.viewCall(ctx, evaultABI, vault, "asset")
	if err != nil {
		return common.Address{}, err
	}
	return res[0].(common.Address), nil
}

func (c *Contracts) VaultOracle(ctx context.Context, vault common.Address) (common.Address, error) {
	res, err := c.viewCall(ctx, evaultABI, vault, "oracle")
	if err != nil {
		return common.Address{}, err
	}
	return res[0].(common.Address), nil
}

func (c *Contracts) VaultUnitOfAccount(ctx context.Context, vault common.Address) (common.Address, error) {
	res, err := c.viewCall(ctx, evaultABI, vault, "unitOfAccount")
	if err != nil {
		return common.Address{}, err
	}
	return res[0].(common.Address), nil
}

func (c *Contracts) VaultLTVList(ctx context.Context, vault common.Address) ([]common.Address, error) {
	res, err := c.viewCall(ctx, evaultABI, vault, "LTVList")
	if err != nil {
		return nil, err
	}
	return res[0].([]common.Address), nil
}

func (c *Contracts) BalanceOf(ctx context.Context, vault, account common.Address) (*big.Int, error) {
	res, err := c.viewCall(ctx, evaultABI, vault, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return res[0].(*big.Int), nil
}

// AccountLiquidity reads (collateralValue, liabilityValue) directly from the
// vault, with the liquidation flag set.
func (c *Contracts) AccountLiquidity(ctx context.Context, vault, account common.Address) (*big.Int, *big.Int, error) {
	res, err := c.viewCall(ctx, evaultABI, vault, "accountLiquidity", account, true)
	if err != nil {
		return nil, nil, err
	}
	return res[0].(*big.Int), res[1].(*big.Int), nil
}

func (c *Contracts) CheckLiquidation(ctx context.Context, vault, liquidator, violator, collateral common.Address) (*big.Int, *big.Int, error) {
	res, err := c.viewCall(ctx, evaultABI, vault, "checkLiquidation", liquidator, violator, collateral)
	if err != nil {
		return nil, nil, err
	}
	return res[0].(*big.Int), res[1].(*big.Int), nil
}

func (c *Contracts) ConvertToAssets(ctx context.Context, vault common.Address, shares *big.Int) (*big.Int, error) {
	res, err := c.viewCall(ctx, evaultABI, vault, "convertToAssets", shares)
	if err != nil {
		return nil, err
	}
	return res[0].(*big.Int), nil
}

// --- EVC reads ---

func (c *Contracts) Collaterals(ctx context.Context, account common.Address) ([]common.Address, error) {
	res, err := c.viewCall(ctx, evcABI, c.EVC, "getCollaterals", account)
	if err != nil {
		return nil, err
	}
	return res[0].([]common.Address), nil
}

// AccountOwner resolves an account's owning identity. The zero address means
// the account is its own owner.
func (c *Contracts) AccountOwner(ctx context.Context, account common.Address) (common.Address, error) {
	res, err := c.viewCall(ctx, evcABI, c.EVC, "getAccountOwner", account)
	if err != nil {
		return common.Address{}, err
	}
	owner := res[0].(common.Address)
	if owner == (common.Address{}) {
		owner = account
	}
	return owner, nil
}

// StatusCheckTopic is the AccountStatusCheck event signature hash.
func StatusCheckTopic() common.Hash {
	return statusCheckTopic
}

// ParseStatusCheck decodes an AccountStatusCheck log into (account, controller).
func ParseStatusCheck(lg types.Log) (common.Address, common.Address, error) {
	if len(lg.Topics) < 3 || lg.Topics[0] != statusCheckTopic {
		return common.Address{}, common.Address{}, fmt.Errorf("not an AccountStatusCheck log")
	}
	return common.BytesToAddress(lg.Topics[1].Bytes()), common.BytesToAddress(lg.Topics[2].Bytes()), nil
}

// --- oracle adapter reads ---

func (c *Contracts) ConfiguredOracle(ctx context.Context, router, base, quote common.Address) (common.Address, error) {
	res, err := c.viewCall(ctx, oracleABI, router, "getConfiguredOracle", base, quote)
	if err != nil {
		return common.Address{}, err
	}
	return res[0].(common.Address), nil
}

func (c *Contracts) OracleName(ctx context.Context, oracle common.Address) (string, error) {
	res, err := c.viewCall(ctx, oracleABI, oracle, "name")
	if err != nil {
		return "", err
	}
	return res[0].(string), nil
}

func (c *Contracts) OracleFeedID(ctx context.Context, oracle common.Address) (string, error) {
	res, err := c.viewCall(ctx, oracleABI, oracle, "feedId")
	if err != nil {
		return "", err
	}
	id := res[0].([32]byte)
	return common.Bytes2Hex(id[:]), nil
}

func (c *Contracts) CrossOracleLegs(ctx context.Context, oracle common.Address) (common.Address, common.Address, error) {
	base, err := c.viewCall(ctx, oracleABI, oracle, "oracleBaseCross")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	quote, err := c.viewCall(ctx, oracleABI, oracle, "oracleCrossQuote")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return base[0].(common.Address), quote[0].(common.Address), nil
}

// --- Pyth ---

func (c *Contracts) UpdateFee(ctx context.Context, updateData []byte) (*big.Int, error) {
	res, err := c.viewCall(ctx, pythABI, c.Pyth, "getUpdateFee", [][]byte{updateData})
	if err != nil {
		return nil, err
	}
	return res[0].(*big.Int), nil
}

// --- periphery liquidator ---

// SimulateAccountStatus applies a pull-oracle update inside an eth_call and
// reads (collateralValue, liabilityValue) under the fresh price.
func (c *Contracts) SimulateAccountStatus(ctx context.Context, updateData []byte, updateFee *big.Int, vault, account common.Address) (*big.Int, *big.Int, error) {
	data, err := liquidatorABI.Pack("simulatePythUpdateAndGetAccountStatus", [][]byte{updateData}, updateFee, vault, account)
	if err != nil {
		return nil, nil, fmt.Errorf("pack simulate status: %w", err)
	}
	out, err := c.Client.Call(ctx, c.Liquidator, data, updateFee)
	if err != nil {
		return nil, nil, fmt.Errorf("simulate status: %w", err)
	}
	res, err := liquidatorABI.Unpack("simulatePythUpdateAndGetAccountStatus", out)
	if err != nil {
		return nil, nil, fmt.Errorf("unpack simulate status: %w", err)
	}
	return res[0].(*big.Int), res[1].(*big.Int), nil
}

// SimulateCheckLiquidation is the pull-oracle variant of CheckLiquidation.
func (c *Contracts) SimulateCheckLiquidation(ctx context.Context, updateData []byte, updateFee *big.Int, vault, liquidator, violator, collateral common.Address) (*big.Int, *big.Int, error) {
	data, err := liquidatorABI.Pack("simulatePythUpdateAndCheckLiquidation", [][]byte{updateData}, updateFee, vault, liquidator, violator, collateral)
	if err != nil {
		return nil, nil, fmt.Errorf("pack simulate checkLiquidation: %w", err)
	}
	out, err := c.Client.Call(ctx, c.Liquidator, data, updateFee)
	if err != nil {
		return nil, nil, fmt.Errorf("simulate checkLiquidation: %w", err)
	}
	res, err := liquidatorABI.Unpack("simulatePythUpdateAndCheckLiquidation", out)
	if err != nil {
		return nil, nil, fmt.Errorf("unpack simulate checkLiquidation: %w", err)
	}
	return res[0].(*big.Int), res[1].(*big.Int), nil
}

// PackLiquidation builds the periphery call data. With update data attached
// the pull-oracle entry point is used and the caller must send the fee.
func PackLiquidation(params LiquidationParams, updateData []byte) ([]byte, error) {
	if len(updateData) > 0 {
		return liquidatorABI.Pack("liquidateSingleCollateralWithPythOracle", params, [][]byte{updateData})
	}
	return liquidatorABI.Pack("liquidateSingleCollateral", params)
}

// ParseLiquidationEvents extracts Liquidation events from a receipt.
func (c *Contracts) ParseLiquidationEvents(receipt *types.Receipt) []LiquidationEvent {
	var events []LiquidationEvent
	for _, lg := range receipt.Logs {
		if lg.Address != c.Liquidator || len(lg.Topics) < 3 || lg.Topics[0] != liquidationTopic {
			continue
		}
		var data struct {
			CollateralVault        common.Address
			RepayAmount            *big.Int
			SeizedCollateralShares *big.Int
		}
		if err := liquidatorABI.UnpackIntoInterface(&data, "Liquidation", lg.Data); err != nil {
			continue
		}
		events = append(events, LiquidationEvent{
			Violator:               common.BytesToAddress(lg.Topics[1].Bytes()),
			Vault:                  common.BytesToAddress(lg.Topics[2].Bytes()),
			CollateralVault:        data.CollateralVault,
			RepayAmount:            data.RepayAmount,
			SeizedCollateralShares: data.SeizedCollateralShares,
		})
	}
	return events
}
