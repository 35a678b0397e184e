package model

import (
	"math"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NoBorrowSentinel marks an account with no open borrow: it is dropped from
// the active schedule until the next on-chain status check re-registers it.
const NoBorrowSentinel int64 = -1

// Account represents a borrowing position. The monitor's check path is the
// only writer, but an event-driven registration can race with a queue-driven
// check of the same address, so mutations go through ApplyCheck under a lock.
type Account struct {
	Address    common.Address
	Owner      common.Address
	SubAccount uint8
	Controller common.Address

	mu            sync.Mutex
	balance       *big.Int
	valueBorrowed *big.Int
	healthScore   float64
	nextCheck     int64
}

// NewAccount creates an account with infinite health and an immediate check.
func NewAccount(address, owner, controller common.Address) *Account {
	sub := address[common.AddressLength-1] ^ owner[common.AddressLength-1]
	return &Account{
		Address:       address,
		Owner:         owner,
		SubAccount:    sub,
		Controller:    controller,
		balance:       new(big.Int),
		valueBorrowed: new(big.Int),
		healthScore:   math.Inf(1),
	}
}

// ApplyCheck records the result of one health check as a single unit so that
// health score and next-check time never interleave across racing updates.
func (a *Account) ApplyCheck(balance, valueBorrowed *big.Int, healthScore float64, nextCheck int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if balance != nil {
		a.balance = new(big.Int).Set(balance)
	}
	if valueBorrowed != nil {
		a.valueBorrowed = new(big.Int).Set(valueBorrowed)
	}
	a.healthScore = healthScore
	a.nextCheck = nextCheck
}

// SetNextCheck overwrites only the scheduled check time.
func (a *Account) SetNextCheck(t int64) {
	a.mu.Lock()
	a.nextCheck = t
	a.mu.Unlock()
}

func (a *Account) HealthScore() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.healthScore
}

func (a *Account) NextCheck() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nextCheck
}

func (a *Account) Balance() *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return new(big.Int).Set(a.balance)
}

func (a *Account) ValueBorrowed() *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return new(big.Int).Set(a.valueBorrowed)
}

// ComputeHealthScore is collateral value over liability value in the vault's
// unit of account. Zero liability means no borrow and scores +Inf.
func ComputeHealthScore(collateralValue, liabilityValue *big.Int) float64 {
	if liabilityValue == nil || liabilityValue.Sign() == 0 {
		return math.Inf(1)
	}
	col, _ := new(big.Float).SetInt(collateralValue).Float64()
	lia, _ := new(big.Float).SetInt(liabilityValue).Float64()
	return col / lia
}
