// internal/math/funding.go
package math

// ComputeFundingGrowthDelta returns the funding growth accrued over elapsed
// seconds, in price units (quote per one whole base unit). Positive growth
// means longs pay shorts.
func ComputeFundingGrowthDelta(
	markTwap int64, // Price scale
	indexTwap int64, // Price scale
	elapsed int64, // seconds
	fundingPeriod int64, // seconds
) int64 {
	if elapsed <= 0 || fundingPeriod <= 0 {
		return 0
	}
	premium := markTwap - indexTwap
	return MulDiv(premium, elapsed, fundingPeriod, RoundHalfEven)
}

// ComputeFundingPayment calculates the funding owed by a position between two
// growth checkpoints. Returns: positive = account pays, negative = account receives.
func ComputeFundingPayment(
	positionSize int64, // Amount scale, signed
	growth int64, // Price scale
	checkpoint int64, // Price scale
) int64 {
	delta := growth - checkpoint
	if delta == 0 || positionSize == 0 {
		return 0
	}
	// Round toward the payer so funding never creates value.
	return MulDiv(positionSize, delta, PriceScale, RoundUp)
}
