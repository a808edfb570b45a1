// internal/math/swap_math.go
package math

import (
	"github.com/holiman/uint256"
)

// SwapStep is the result of swapping within a single tick range.
type SwapStep struct {
	SqrtPriceNext *uint256.Int
	AmountIn      int64 // excluding fee
	AmountOut     int64
	FeeAmount     int64
}

// ComputeSwapStep swaps against liquidity until either amountRemaining is
// consumed or the price reaches sqrtTarget. amountRemaining is positive for
// exact input and negative for exact output. feeRatio is in parts per million
// and is charged on the input token.
func ComputeSwapStep(
	sqrtCurrent, sqrtTarget *uint256.Int,
	liquidity int64,
	amountRemaining int64,
	feeRatio int64,
) (SwapStep, error) {
	baseIn := !sqrtCurrent.Lt(sqrtTarget)
	exactIn := amountRemaining >= 0

	var (
		step      SwapStep
		amountIn  *uint256.Int
		amountOut *uint256.Int
		err       error
	)

	if exactIn {
		lessFee := MulDiv(amountRemaining, RatioScale-feeRatio, RatioScale, RoundDown)
		if baseIn {
			amountIn, err = Amount0Delta(sqrtTarget, sqrtCurrent, liquidity, true)
		} else {
			amountIn, err = Amount1Delta(sqrtCurrent, sqrtTarget, liquidity, true)
		}
		if err != nil {
			return step, err
		}
		if uint256.NewInt(uint64(lessFee)).Cmp(amountIn) >= 0 {
			step.SqrtPriceNext = sqrtTarget.Clone()
		} else {
			step.SqrtPriceNext, err = NextSqrtPriceFromInput(sqrtCurrent, liquidity, uint256.NewInt(uint64(lessFee)), baseIn)
			if err != nil {
				return step, err
			}
		}
	} else {
		if baseIn {
			amountOut, err = Amount1Delta(sqrtTarget, sqrtCurrent, liquidity, false)
		} else {
			amountOut, err = Amount0Delta(sqrtCurrent, sqrtTarget, liquidity, false)
		}
		if err != nil {
			return step, err
		}
		wanted := uint256.NewInt(uint64(-amountRemaining))
		if wanted.Cmp(amountOut) >= 0 {
			step.SqrtPriceNext = sqrtTarget.Clone()
		} else {
			step.SqrtPriceNext, err = NextSqrtPriceFromOutput(sqrtCurrent, liquidity, wanted, baseIn)
			if err != nil {
				return step, err
			}
		}
	}

	reachedTarget := step.SqrtPriceNext.Eq(sqrtTarget)

	if baseIn {
		if !(reachedTarget && exactIn) {
			if amountIn, err = Amount0Delta(step.SqrtPriceNext, sqrtCurrent, liquidity, true); err != nil {
				return step, err
			}
		}
		if !(reachedTarget && !exactIn) {
			if amountOut, err = Amount1Delta(step.SqrtPriceNext, sqrtCurrent, liquidity, false); err != nil {
				return step, err
			}
		}
	} else {
		if !(reachedTarget && exactIn) {
			if amountIn, err = Amount1Delta(sqrtCurrent, step.SqrtPriceNext, liquidity, true); err != nil {
				return step, err
			}
		}
		if !(reachedTarget && !exactIn) {
			if amountOut, err = Amount0Delta(sqrtCurrent, step.SqrtPriceNext, liquidity, false); err != nil {
				return step, err
			}
		}
	}

	if step.AmountIn, err = ToInt64(amountIn); err != nil {
		return step, err
	}
	if step.AmountOut, err = ToInt64(amountOut); err != nil {
		return step, err
	}

	// exact output is capped at the requested amount
	if !exactIn && step.AmountOut > -amountRemaining {
		step.AmountOut = -amountRemaining
	}

	if exactIn && !reachedTarget {
		// the remainder of the input is all fee
		step.FeeAmount = amountRemaining - step.AmountIn
	} else {
		step.FeeAmount = MulDiv(step.AmountIn, feeRatio, RatioScale-feeRatio, RoundUp)
	}
	return step, nil
}
