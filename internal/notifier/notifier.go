package notifier

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LiquidationData carries the identifying details of a found or executed
// liquidation for a human operator.
type LiquidationData struct {
	Account         common.Address
	Owner           common.Address
	Vault           common.Address
	CollateralVault common.Address
	CollateralAsset common.Address
	MaxRepay        *big.Int
	SeizedShares    *big.Int
	Leftover        *big.Int
	Profit          *big.Int
	TxHash          string
}

// ReportEntry is one account line in the periodic health report.
type ReportEntry struct {
	Address       common.Address
	Owner         common.Address
	HealthScore   float64
	ValueBorrowed *big.Int
}

// Notifier is the sink for operator-facing events.
type Notifier interface {
	UnhealthyAccount(account, owner, vault common.Address, healthScore float64, valueBorrowed *big.Int)
	Opportunity(d *LiquidationData)
	Executed(d *LiquidationData)
	Error(context string, err error)
	HealthReport(entries []ReportEntry, totalAccounts int, totalBorrowed *big.Int)
}

// NoopNotifier discards all events.
type NoopNotifier struct{}

func NewNoopNotifier() *NoopNotifier { return &NoopNotifier{} }

func (n *NoopNotifier) UnhealthyAccount(_, _, _ common.Address, _ float64, _ *big.Int) {}
func (n *NoopNotifier) Opportunity(_ *LiquidationData)                                 {}
func (n *NoopNotifier) Executed(_ *LiquidationData)                                    {}
func (n *NoopNotifier) Error(_ string, _ error)                                        {}
func (n *NoopNotifier) HealthReport(_ []ReportEntry, _ int, _ *big.Int)                {}
