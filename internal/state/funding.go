package state

import (
	fpmath "PerpClearing/internal/math"
)

// FundingGrowth is the cumulative funding owed per unit of base size in a
// market, in price units. Longs pay when it rises.
type FundingGrowth struct {
	MarketID       string `json:"market_id"`
	Growth         int64  `json:"growth"`
	LastSettlement int64  `json:"last_settlement"`
}

// IsDue reports whether a funding period has passed since the last accrual.
// A market that never accrued is always due so its clock gets started.
func (f FundingGrowth) IsDue(now, period int64) bool {
	return f.LastSettlement == 0 || now >= f.LastSettlement+period
}

// accrue adds (mark - index) * elapsed / period. The first call only starts
// the clock.
func (f *FundingGrowth) accrue(now, period, markTwap, indexTwap int64) int64 {
	if f.LastSettlement == 0 {
		f.LastSettlement = now
		return 0
	}
	elapsed := now - f.LastSettlement
	if elapsed <= 0 {
		return 0
	}
	delta := fpmath.ComputeFundingGrowthDelta(markTwap, indexTwap, elapsed, period)
	f.Growth += delta
	f.LastSettlement = now
	return delta
}

// PendingFunding is what a position owes (positive) or is owed (negative)
// since its last checkpoint.
func PendingFunding(pos Position, growth int64) int64 {
	return fpmath.ComputeFundingPayment(pos.Size, growth, pos.FundingCheckpoint)
}
