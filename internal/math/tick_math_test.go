package math_test

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fpmath "PerpClearing/internal/math"
)

func TestSqrtPriceAtTick_ZeroIsOne(t *testing.T) {
	s, err := fpmath.SqrtPriceAtTick(0)
	require.NoError(t, err)
	assert.True(t, s.Eq(fpmath.Q96))

	fromPrice, err := fpmath.SqrtPriceFromPrice(fpmath.PriceScale)
	require.NoError(t, err)
	assert.True(t, fromPrice.Eq(fpmath.Q96))
}

func TestSqrtPriceAtTick_Bounds(t *testing.T) {
	_, err := fpmath.SqrtPriceAtTick(fpmath.MaxTick + 1)
	assert.ErrorIs(t, err, fpmath.ErrTickOutOfRange)
	_, err = fpmath.SqrtPriceAtTick(fpmath.MinTick - 1)
	assert.ErrorIs(t, err, fpmath.ErrTickOutOfRange)

	// sqrt(1.0001^-887272) * 2^96 ~= 4295128739
	assert.InDelta(t, 4295128739, float64(fpmath.MinSqrtPrice.Uint64()), 10)
	assert.True(t, fpmath.MinSqrtPrice.Lt(fpmath.MaxSqrtPrice))
}

func TestSqrtPriceAtTick_Monotonic(t *testing.T) {
	for _, tick := range []int32{-887272, -50000, -1, 0, 1, 49000, 50000, 887271} {
		a := fpmath.MustSqrtPriceAtTick(tick)
		b := fpmath.MustSqrtPriceAtTick(tick + 1)
		assert.Truef(t, a.Lt(b), "tick %d", tick)
	}
}

func TestTickAtSqrtPrice_RoundTrip(t *testing.T) {
	for _, tick := range []int32{fpmath.MinTick, -100000, -200, -1, 0, 1, 199, 50000, 51400, fpmath.MaxTick} {
		s := fpmath.MustSqrtPriceAtTick(tick)
		got, err := fpmath.TickAtSqrtPrice(s)
		require.NoError(t, err)
		assert.Equal(t, tick, got)

		if tick < fpmath.MaxTick {
			// one unit above the boundary still belongs to the same tick
			above := new(uint256.Int).AddUint64(s, 1)
			got, err = fpmath.TickAtSqrtPrice(above)
			require.NoError(t, err)
			assert.Equal(t, tick, got)
		}
	}

	_, err := fpmath.TickAtSqrtPrice(uint256.NewInt(1))
	assert.ErrorIs(t, err, fpmath.ErrSqrtPriceOutOfRange)
}

func TestPriceAtTick_KnownValues(t *testing.T) {
	cases := map[int32]int64{
		50000:  148_376_062,    // 148.3760629
		50200:  151_373_306,    // 151.3733069
		100000: 22_015_456_048, // 22015.4560485522
	}
	for tick, want := range cases {
		got, err := fpmath.PriceAtTick(tick)
		require.NoError(t, err)
		assert.InDeltaf(t, want, got, 1, "tick %d", tick)
	}
}
