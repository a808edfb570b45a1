// internal/math/liquidity_amounts.go
package math

import (
	"github.com/holiman/uint256"
)

// maxLiquidity keeps liquidityNet sums representable as int64.
const maxLiquidity = int64(1) << 62

func liquidityForAmount0(sqrtA, sqrtB *uint256.Int, amount0 int64) (*uint256.Int, error) {
	sqrtA, sqrtB = sortSqrt(sqrtA, sqrtB)
	intermediate, err := mulDiv(sqrtA, sqrtB, Q96)
	if err != nil {
		return nil, err
	}
	return mulDiv(fromInt64(amount0), intermediate, new(uint256.Int).Sub(sqrtB, sqrtA))
}

func liquidityForAmount1(sqrtA, sqrtB *uint256.Int, amount1 int64) (*uint256.Int, error) {
	sqrtA, sqrtB = sortSqrt(sqrtA, sqrtB)
	return mulDiv(fromInt64(amount1), Q96, new(uint256.Int).Sub(sqrtB, sqrtA))
}

// LiquidityForAmounts returns the largest liquidity that base and quote can
// fund over [sqrtA, sqrtB] at the current price. Below the range only base
// counts, above it only quote, inside it the smaller of the two.
func LiquidityForAmounts(sqrtCurrent, sqrtA, sqrtB *uint256.Int, base, quote int64) (int64, error) {
	sqrtA, sqrtB = sortSqrt(sqrtA, sqrtB)

	var (
		l   *uint256.Int
		err error
	)
	switch {
	case !sqrtCurrent.Gt(sqrtA):
		l, err = liquidityForAmount0(sqrtA, sqrtB, base)
	case sqrtCurrent.Lt(sqrtB):
		var l0, l1 *uint256.Int
		if l0, err = liquidityForAmount0(sqrtCurrent, sqrtB, base); err != nil {
			return 0, err
		}
		if l1, err = liquidityForAmount1(sqrtA, sqrtCurrent, quote); err != nil {
			return 0, err
		}
		l = l0
		if l1.Lt(l0) {
			l = l1
		}
	default:
		l, err = liquidityForAmount1(sqrtA, sqrtB, quote)
	}
	if err != nil {
		return 0, err
	}

	v, err := ToInt64(l)
	if err != nil || v > maxLiquidity {
		return 0, ErrMathOverflow
	}
	return v, nil
}

// AmountsForLiquidity returns the base and quote represented by liquidity over
// [sqrtA, sqrtB] at the current price. Both amounts are rounded down, for
// minting and burning alike, so a mint followed by a burn of the same
// liquidity at an unchanged price returns identical amounts.
func AmountsForLiquidity(sqrtCurrent, sqrtA, sqrtB *uint256.Int, liquidity int64) (base, quote int64, err error) {
	sqrtA, sqrtB = sortSqrt(sqrtA, sqrtB)

	var b, q *uint256.Int
	switch {
	case !sqrtCurrent.Gt(sqrtA):
		b, err = Amount0Delta(sqrtA, sqrtB, liquidity, false)
		q = new(uint256.Int)
	case sqrtCurrent.Lt(sqrtB):
		if b, err = Amount0Delta(sqrtCurrent, sqrtB, liquidity, false); err != nil {
			return 0, 0, err
		}
		q, err = Amount1Delta(sqrtA, sqrtCurrent, liquidity, false)
	default:
		b = new(uint256.Int)
		q, err = Amount1Delta(sqrtA, sqrtB, liquidity, false)
	}
	if err != nil {
		return 0, 0, err
	}

	if base, err = ToInt64(b); err != nil {
		return 0, 0, err
	}
	if quote, err = ToInt64(q); err != nil {
		return 0, 0, err
	}
	return base, quote, nil
}
