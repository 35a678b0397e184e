package model

import (
	"math"
	"math/big"
	"math/rand"
	"time"
)

// SchedulePolicy maps an account's health score and borrow size to the delay
// before its next check. Riskier accounts are checked sooner; small positions
// are stretched to a floor interval to bound RPC and quote-API cost.
type SchedulePolicy struct {
	HealthLowerBound float64
	HealthUpperBound float64
	MinInterval      time.Duration
	MaxInterval      time.Duration

	// Positions borrowing less than SmallBorrowThreshold (in unit-of-account
	// wei) never check more often than SmallBorrowInterval.
	SmallBorrowThreshold *big.Int
	SmallBorrowInterval  time.Duration
}

// Interval returns the un-jittered check interval for a health score and
// borrowed value: clamped to MinInterval below the lower health bound, to
// MaxInterval above the upper bound, linearly interpolated between.
func (p SchedulePolicy) Interval(healthScore float64, valueBorrowed *big.Int) time.Duration {
	var gap time.Duration
	switch {
	case healthScore < p.HealthLowerBound:
		gap = p.MinInterval
	case healthScore > p.HealthUpperBound:
		gap = p.MaxInterval
	default:
		slope := float64(p.MaxInterval-p.MinInterval) / (p.HealthUpperBound - p.HealthLowerBound)
		gap = time.Duration(float64(p.MinInterval) + slope*(healthScore-p.HealthLowerBound))
	}

	if p.SmallBorrowThreshold != nil && p.SmallBorrowThreshold.Sign() > 0 &&
		valueBorrowed != nil && valueBorrowed.Cmp(p.SmallBorrowThreshold) < 0 &&
		gap < p.SmallBorrowInterval {
		gap = p.SmallBorrowInterval
	}
	return gap
}

// NextCheck computes the next scheduled check time for an account. Infinite
// health returns NoBorrowSentinel. The interval is jittered by +-10% so that
// many accounts registered together do not re-check in lockstep. If the
// previously scheduled time is still in the future and earlier than the
// computed one, it is kept: an account already due soon is never pushed later.
func (p SchedulePolicy) NextCheck(healthScore float64, valueBorrowed *big.Int, now time.Time, prev int64) int64 {
	if math.IsInf(healthScore, 1) {
		return NoBorrowSentinel
	}

	gap := p.Interval(healthScore, valueBorrowed)
	jitter := 0.9 + rand.Float64()/5
	next := now.Unix() + int64(float64(gap/time.Second)*jitter)

	if prev > now.Unix() && prev < next {
		return prev
	}
	return next
}
