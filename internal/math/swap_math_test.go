package math_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fpmath "PerpClearing/internal/math"
)

func TestLiquidityForAmounts_ThreeCases(t *testing.T) {
	lower := fpmath.MustSqrtPriceAtTick(49000)
	upper := fpmath.MustSqrtPriceAtTick(51400)

	// price below the range: base only
	below := fpmath.MustSqrtPriceAtTick(40000)
	l, err := fpmath.LiquidityForAmounts(below, lower, upper, 100_000_000, 0)
	require.NoError(t, err)
	require.Positive(t, l)
	base, quote, err := fpmath.AmountsForLiquidity(below, lower, upper, l)
	require.NoError(t, err)
	assert.LessOrEqual(t, base, int64(100_000_000))
	assert.Zero(t, quote)

	// price above the range: quote only
	above := fpmath.MustSqrtPriceAtTick(60000)
	l, err = fpmath.LiquidityForAmounts(above, lower, upper, 0, 15_000_000_000)
	require.NoError(t, err)
	base, quote, err = fpmath.AmountsForLiquidity(above, lower, upper, l)
	require.NoError(t, err)
	assert.Zero(t, base)
	assert.LessOrEqual(t, quote, int64(15_000_000_000))
	assert.InDelta(t, 15_000_000_000, quote, 2)

	// inside: limited by the scarcer side
	inside := fpmath.MustSqrtPriceAtTick(50200)
	l, err = fpmath.LiquidityForAmounts(inside, lower, upper, 100_000_000, 15_000_000_000)
	require.NoError(t, err)
	base, quote, err = fpmath.AmountsForLiquidity(inside, lower, upper, l)
	require.NoError(t, err)
	assert.Positive(t, base)
	assert.Positive(t, quote)
	assert.LessOrEqual(t, base, int64(100_000_000))
	assert.LessOrEqual(t, quote, int64(15_000_000_000))
}

func TestComputeSwapStep_ExactInputStopsInsideRange(t *testing.T) {
	current := fpmath.MustSqrtPriceAtTick(0)
	target := fpmath.MustSqrtPriceAtTick(-1000)
	const liquidity = int64(1_000_000_000_000)

	step, err := fpmath.ComputeSwapStep(current, target, liquidity, 1_000_000, 10_000)
	require.NoError(t, err)

	assert.Equal(t, int64(1_000_000), step.AmountIn+step.FeeAmount)
	assert.InDelta(t, 10_000, step.FeeAmount, 1)
	assert.Positive(t, step.AmountOut)
	assert.Less(t, step.AmountOut, step.AmountIn)
	assert.True(t, step.SqrtPriceNext.Lt(current))
	assert.True(t, step.SqrtPriceNext.Gt(target))
}

func TestComputeSwapStep_ExactOutputCapped(t *testing.T) {
	current := fpmath.MustSqrtPriceAtTick(0)
	target := fpmath.MustSqrtPriceAtTick(1000)
	const liquidity = int64(1_000_000_000_000)

	// quote in, base out
	step, err := fpmath.ComputeSwapStep(current, target, liquidity, -1_000_000, 10_000)
	require.NoError(t, err)

	assert.Equal(t, int64(1_000_000), step.AmountOut)
	assert.Greater(t, step.AmountIn, int64(1_000_000))
	assert.Positive(t, step.FeeAmount)
	assert.True(t, step.SqrtPriceNext.Gt(current))
}

func TestComputeSwapStep_ReachesTarget(t *testing.T) {
	current := fpmath.MustSqrtPriceAtTick(0)
	target := fpmath.MustSqrtPriceAtTick(-10)
	const liquidity = int64(1_000_000)

	step, err := fpmath.ComputeSwapStep(current, target, liquidity, 1_000_000_000, 0)
	require.NoError(t, err)
	assert.True(t, step.SqrtPriceNext.Eq(target))
	assert.Zero(t, step.FeeAmount)
	assert.Less(t, step.AmountIn, int64(1_000_000_000))
}

func TestComputeSwapStep_ZeroLiquidityJumpsToTarget(t *testing.T) {
	current := fpmath.MustSqrtPriceAtTick(0)
	target := fpmath.MustSqrtPriceAtTick(-600)

	step, err := fpmath.ComputeSwapStep(current, target, 0, 1_000_000, 10_000)
	require.NoError(t, err)
	assert.True(t, step.SqrtPriceNext.Eq(target))
	assert.Zero(t, step.AmountIn)
	assert.Zero(t, step.AmountOut)
}
