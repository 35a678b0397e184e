package model

import (
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestNewAccount_SubAccountFromOwnerXor(t *testing.T) {
	owner := common.HexToAddress("0x1000000000000000000000000000000000000000")
	addr := common.HexToAddress("0x1000000000000000000000000000000000000005")
	a := NewAccount(addr, owner, common.Address{})
	if a.SubAccount != 5 {
		t.Errorf("expected sub-account 5, got %d", a.SubAccount)
	}

	same := NewAccount(owner, owner, common.Address{})
	if same.SubAccount != 0 {
		t.Errorf("expected sub-account 0 for owner itself, got %d", same.SubAccount)
	}
}

func TestComputeHealthScore(t *testing.T) {
	if hs := ComputeHealthScore(big.NewInt(100), big.NewInt(0)); !math.IsInf(hs, 1) {
		t.Errorf("expected +Inf for zero liability, got %f", hs)
	}
	if hs := ComputeHealthScore(big.NewInt(100), nil); !math.IsInf(hs, 1) {
		t.Errorf("expected +Inf for nil liability, got %f", hs)
	}
	if hs := ComputeHealthScore(big.NewInt(105), big.NewInt(100)); math.Abs(hs-1.05) > 1e-9 {
		t.Errorf("expected 1.05, got %f", hs)
	}
	if hs := ComputeHealthScore(big.NewInt(98), big.NewInt(100)); hs >= 1 {
		t.Errorf("expected unhealthy score below 1, got %f", hs)
	}
}

func TestApplyCheck_UpdatesAllFieldsAtomically(t *testing.T) {
	a := NewAccount(common.Address{1}, common.Address{1}, common.Address{2})
	a.ApplyCheck(big.NewInt(10), big.NewInt(200), 1.1, 12345)

	if a.HealthScore() != 1.1 {
		t.Errorf("health score = %f", a.HealthScore())
	}
	if a.NextCheck() != 12345 {
		t.Errorf("next check = %d", a.NextCheck())
	}
	if a.ValueBorrowed().Cmp(big.NewInt(200)) != 0 {
		t.Errorf("value borrowed = %s", a.ValueBorrowed())
	}

	// nil amounts leave prior values untouched
	a.ApplyCheck(nil, nil, 1.2, 12346)
	if a.Balance().Cmp(big.NewInt(10)) != 0 {
		t.Errorf("balance overwritten by nil: %s", a.Balance())
	}
	if a.ValueBorrowed().Cmp(big.NewInt(200)) != 0 {
		t.Errorf("borrowed overwritten by nil: %s", a.ValueBorrowed())
	}
}

func TestRecord_InfiniteHealthSerializesAsNegativeOne(t *testing.T) {
	a := NewAccount(common.Address{1}, common.Address{1}, common.Address{2})
	rec := a.Record()
	if rec.HealthScore != -1 {
		t.Errorf("expected -1 placeholder for infinite health, got %f", rec.HealthScore)
	}

	a.ApplyCheck(nil, big.NewInt(100), 1.3, 99)
	rec = a.Record()
	if rec.HealthScore != 1.3 {
		t.Errorf("expected 1.3, got %f", rec.HealthScore)
	}
	if rec.NextCheck != 99 {
		t.Errorf("expected next check 99, got %d", rec.NextCheck)
	}
}
