package model

import (
	"math"
	"math/big"
	"testing"
	"time"
)

func testPolicy() SchedulePolicy {
	return SchedulePolicy{
		HealthLowerBound:     1.02,
		HealthUpperBound:     1.5,
		MinInterval:          60 * time.Second,
		MaxInterval:          4 * time.Hour,
		SmallBorrowThreshold: big.NewInt(1_000_000),
		SmallBorrowInterval:  15 * time.Minute,
	}
}

func TestInterval_ClampsBelowLowerBound(t *testing.T) {
	p := testPolicy()
	borrowed := new(big.Int).Mul(p.SmallBorrowThreshold, big.NewInt(10))
	if got := p.Interval(0.5, borrowed); got != p.MinInterval {
		t.Errorf("expected min interval for critical health, got %v", got)
	}
	if got := p.Interval(1.02, borrowed); got != p.MinInterval {
		t.Errorf("expected min interval at lower bound, got %v", got)
	}
}

func TestInterval_ClampsAboveUpperBound(t *testing.T) {
	p := testPolicy()
	borrowed := new(big.Int).Mul(p.SmallBorrowThreshold, big.NewInt(10))
	if got := p.Interval(3.0, borrowed); got != p.MaxInterval {
		t.Errorf("expected max interval for very healthy account, got %v", got)
	}
}

func TestInterval_MonotoneInHealthScore(t *testing.T) {
	p := testPolicy()
	borrowed := new(big.Int).Mul(p.SmallBorrowThreshold, big.NewInt(10))
	prev := time.Duration(0)
	for hs := 1.02; hs <= 1.5; hs += 0.01 {
		got := p.Interval(hs, borrowed)
		if got < prev {
			t.Fatalf("interval decreased at hs=%.2f: %v < %v", hs, got, prev)
		}
		if got < p.MinInterval || got > p.MaxInterval {
			t.Fatalf("interval %v outside [%v, %v] at hs=%.2f", got, p.MinInterval, p.MaxInterval, hs)
		}
		prev = got
	}
}

func TestInterval_SmallBorrowFloor(t *testing.T) {
	p := testPolicy()
	dust := big.NewInt(100)
	if got := p.Interval(1.02, dust); got != p.SmallBorrowInterval {
		t.Errorf("expected small-borrow floor for dust position, got %v", got)
	}
	// A large unhealthy position must not be stretched.
	whale := new(big.Int).Mul(p.SmallBorrowThreshold, big.NewInt(10))
	if got := p.Interval(1.02, whale); got != p.MinInterval {
		t.Errorf("expected min interval for large position, got %v", got)
	}
}

func TestNextCheck_InfiniteHealthReturnsSentinel(t *testing.T) {
	p := testPolicy()
	got := p.NextCheck(math.Inf(1), big.NewInt(0), time.Now(), 0)
	if got != NoBorrowSentinel {
		t.Errorf("expected sentinel for no-borrow account, got %d", got)
	}
}

func TestNextCheck_JitterStaysWithinBounds(t *testing.T) {
	p := testPolicy()
	borrowed := new(big.Int).Mul(p.SmallBorrowThreshold, big.NewInt(10))
	now := time.Now()
	gap := int64(p.Interval(1.25, borrowed) / time.Second)

	for i := 0; i < 200; i++ {
		next := p.NextCheck(1.25, borrowed, now, 0)
		delay := next - now.Unix()
		lo := int64(float64(gap) * 0.9)
		hi := int64(float64(gap)*1.1) + 1
		if delay < lo || delay > hi {
			t.Fatalf("jittered delay %d outside [%d, %d]", delay, lo, hi)
		}
	}
}

func TestNextCheck_KeepsEarlierScheduledTime(t *testing.T) {
	p := testPolicy()
	borrowed := new(big.Int).Mul(p.SmallBorrowThreshold, big.NewInt(10))
	now := time.Now()

	// Already due in 30s; a healthy recheck must not push it out.
	prev := now.Unix() + 30
	if got := p.NextCheck(1.4, borrowed, now, prev); got != prev {
		t.Errorf("expected earlier scheduled time %d to be kept, got %d", prev, got)
	}

	// A stale past time is not kept.
	stale := now.Unix() - 100
	if got := p.NextCheck(1.4, borrowed, now, stale); got == stale {
		t.Error("expected past scheduled time to be replaced")
	}
}
