package math_test

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fpmath "PerpClearing/internal/math"
)

func TestDivideInt128_RoundingModes(t *testing.T) {
	cases := []struct {
		num, den int64
		mode     fpmath.RoundingMode
		want     int64
	}{
		{7, 2, fpmath.RoundHalfEven, 4},
		{5, 2, fpmath.RoundHalfEven, 2},
		{-5, 2, fpmath.RoundHalfEven, -2},
		{-7, 2, fpmath.RoundHalfEven, -4},
		{8, 3, fpmath.RoundHalfEven, 3},
		{7, 2, fpmath.RoundDown, 3},
		{-7, 2, fpmath.RoundDown, -4},
		{7, 2, fpmath.RoundUp, 4},
		{-7, 2, fpmath.RoundUp, -3},
		{-7, 2, fpmath.RoundTowardZero, -3},
		{7, -2, fpmath.RoundDown, -4},
		{6, 2, fpmath.RoundUp, 3},
	}
	for _, c := range cases {
		got := fpmath.DivideInt128(big.NewInt(c.num), c.den, c.mode)
		assert.Equalf(t, c.want, got, "%d/%d mode=%d", c.num, c.den, c.mode)
	}
}

func TestMulDiv_Saturates(t *testing.T) {
	assert.Equal(t, int64(math.MaxInt64), fpmath.MulDiv(math.MaxInt64, 4, 1, fpmath.RoundDown))
	assert.Equal(t, int64(math.MinInt64), fpmath.MulDiv(math.MaxInt64, -4, 1, fpmath.RoundDown))
	// the intermediate may exceed 64 bits as long as the quotient fits
	assert.Equal(t, int64(math.MaxInt64), fpmath.MulDiv(math.MaxInt64, 1_000_000, 1_000_000, fpmath.RoundDown))
}

func TestComputeUnrealizedPnL_LongAndShort(t *testing.T) {
	// long 2 @ 100, marked at 110
	assert.Equal(t, int64(20_000_000), fpmath.ComputeUnrealizedPnL(2_000_000, -200_000_000, 110_000_000))
	// short 2 @ 100, marked at 110
	assert.Equal(t, int64(-20_000_000), fpmath.ComputeUnrealizedPnL(-2_000_000, 200_000_000, 110_000_000))
	assert.Equal(t, int64(100_000_000), fpmath.ComputeEntryPrice(-2_000_000, 200_000_000))
}

func TestComputeRatio_ZeroDenominatorIsNeutral(t *testing.T) {
	assert.Equal(t, int64(math.MaxInt64), fpmath.ComputeRatio(5, 0))
	assert.Equal(t, int64(100_000), fpmath.ComputeRatio(10_000_000, 100_000_000))
}

func TestFunding_GrowthAndPayment(t *testing.T) {
	growth := fpmath.ComputeFundingGrowthDelta(101_000_000, 100_000_000, 1800, 3600)
	assert.Equal(t, int64(500_000), growth)

	assert.Equal(t, int64(1_000_000), fpmath.ComputeFundingPayment(2_000_000, growth, 0))
	assert.Equal(t, int64(-1_000_000), fpmath.ComputeFundingPayment(-2_000_000, growth, 0))
	assert.Zero(t, fpmath.ComputeFundingPayment(2_000_000, growth, growth))
	assert.Zero(t, fpmath.ComputeFundingGrowthDelta(101_000_000, 100_000_000, 0, 3600))
}

func TestFunding_RoundsAgainstTheReceiver(t *testing.T) {
	// 1 unit of base at 0.5 units of growth: 0.5 -> payer pays 1, receiver gets 0
	assert.Equal(t, int64(1), fpmath.ComputeFundingPayment(1, 500_000, 0))
	assert.Equal(t, int64(0), fpmath.ComputeFundingPayment(-1, 500_000, 0))
}

func TestParseFixed(t *testing.T) {
	v, err := fpmath.ParseFixed("405.113636", fpmath.PriceConfig)
	require.NoError(t, err)
	assert.Equal(t, int64(405_113_636), v)
	assert.Equal(t, "405.113636", fpmath.FormatFixed(v, fpmath.PriceConfig))

	ratio, err := fpmath.ParseFixed("0.0625", fpmath.RatioConfig)
	require.NoError(t, err)
	assert.Equal(t, int64(62_500), ratio)

	_, err = fpmath.ParseFixed("not-a-number", fpmath.PriceConfig)
	assert.Error(t, err)
	_, err = fpmath.ParseFixed("100000000000000", fpmath.PriceConfig)
	assert.ErrorIs(t, err, fpmath.ErrMathOverflow)
}
