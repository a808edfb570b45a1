// internal/liquidity/swap.go
package liquidity

import (
	"fmt"

	fpmath "PerpClearing/internal/math"
	"PerpClearing/internal/state"

	"github.com/holiman/uint256"
)

// SwapParams describes a taker trade against the pool.
type SwapParams struct {
	IsBaseToQuote  bool
	ExactInput     bool
	Amount         int64        // of the input token when ExactInput, else of the output token
	SqrtPriceLimit *uint256.Int // nil for no limit
}

// SwapResult is reported from the taker's point of view.
type SwapResult struct {
	Base         int64 // signed base delta
	Quote        int64 // signed quote delta
	Fee          int64 // in the input token
	TicksCrossed int
	SqrtPrice    uint256.Int
	Tick         int32
}

// ExchangedNotional is |quote| moved by the swap, fee included.
func (r SwapResult) ExchangedNotional() int64 {
	return fpmath.Abs(r.Quote)
}

func (p *Pool) defaultLimit(baseIn bool) *uint256.Int {
	if baseIn {
		return new(uint256.Int).AddUint64(fpmath.MinSqrtPrice, 1)
	}
	return new(uint256.Int).SubUint64(fpmath.MaxSqrtPrice, 1)
}

// Swap walks initialized ticks from the current price in the trade
// direction until the amount is filled or the price limit is reached. Fees
// are charged on the input token and credited to fee growth per unit of
// active liquidity. The walk fails with ErrInsufficientLiquidity when it runs
// out of liquidity before filling the amount.
func (p *Pool) Swap(params SwapParams) (SwapResult, error) {
	if params.Amount <= 0 {
		return SwapResult{}, fmt.Errorf("swap amount %d: %w", params.Amount, state.ErrInvalidAmount)
	}
	baseIn := params.IsBaseToQuote

	limit := params.SqrtPriceLimit
	if limit == nil || limit.IsZero() {
		limit = p.defaultLimit(baseIn)
	}
	if baseIn && (!limit.Lt(&p.SqrtPrice) || !limit.Gt(fpmath.MinSqrtPrice)) ||
		!baseIn && (!limit.Gt(&p.SqrtPrice) || !limit.Lt(fpmath.MaxSqrtPrice)) {
		return SwapResult{}, fmt.Errorf("%w: %s", ErrInvalidPriceLimit, limit.Dec())
	}

	remaining := params.Amount
	if !params.ExactInput {
		remaining = -remaining
	}

	// the walk writes crossed ticks into a lazy copy so a failed swap leaves
	// the pool untouched
	ticks := p.ticks.Clone()

	var (
		sqrtPrice = p.SqrtPrice.Clone()
		tick      = p.Tick
		liquidity = p.Liquidity
		growth    = [2]uint256.Int{p.FeeGrowthGlobalBase, p.FeeGrowthGlobalQuote}
		feeIdx    = 1 // quote in
		amountIn  int64
		amountOut int64
		fees      int64
		crossed   int
	)
	if baseIn {
		feeIdx = 0
	}

	for remaining != 0 && !sqrtPrice.Eq(limit) {
		var (
			next  Tick
			found bool
		)
		if baseIn {
			next, found = ticks.AtOrBelow(tick)
		} else {
			next, found = ticks.Above(tick)
		}

		nextIndex := next.Index
		if !found {
			if liquidity == 0 {
				return SwapResult{}, fmt.Errorf("%w in %s after %d ticks", ErrInsufficientLiquidity, p.MarketID, crossed)
			}
			nextIndex = fpmath.MaxTick
			if baseIn {
				nextIndex = fpmath.MinTick
			}
		}

		sqrtNext := fpmath.MustSqrtPriceAtTick(nextIndex)
		target := sqrtNext
		if baseIn && target.Lt(limit) || !baseIn && target.Gt(limit) {
			target = limit
		}

		step, err := fpmath.ComputeSwapStep(sqrtPrice, target, liquidity, remaining, p.FeeRatio)
		if err != nil {
			return SwapResult{}, fmt.Errorf("swap step at tick %d: %w", tick, err)
		}

		if params.ExactInput {
			remaining -= step.AmountIn + step.FeeAmount
		} else {
			remaining += step.AmountOut
		}
		amountIn += step.AmountIn
		amountOut += step.AmountOut
		fees += step.FeeAmount

		if liquidity > 0 && step.FeeAmount > 0 {
			inc, overflow := new(uint256.Int).MulDivOverflow(
				uint256.NewInt(uint64(step.FeeAmount)), fpmath.Q128, uint256.NewInt(uint64(liquidity)))
			if overflow {
				return SwapResult{}, fpmath.ErrMathOverflow
			}
			growth[feeIdx].Add(&growth[feeIdx], inc)
		}

		sqrtPrice = step.SqrtPriceNext
		if sqrtPrice.Eq(sqrtNext) {
			if !found {
				// reached the global bound with amount left
				break
			}
			next.FeeGrowthOutsideBase.Sub(&growth[0], &next.FeeGrowthOutsideBase)
			next.FeeGrowthOutsideQuote.Sub(&growth[1], &next.FeeGrowthOutsideQuote)
			ticks.Set(next)

			net := next.LiquidityNet
			if baseIn {
				net = -net
			}
			liquidity += net
			crossed++

			tick = nextIndex
			if baseIn {
				tick = nextIndex - 1
			}
		} else {
			if tick, err = fpmath.TickAtSqrtPrice(sqrtPrice); err != nil {
				return SwapResult{}, err
			}
		}
	}

	if remaining != 0 && !sqrtPrice.Eq(limit) {
		return SwapResult{}, fmt.Errorf("%w in %s: %d unfilled", ErrInsufficientLiquidity, p.MarketID, fpmath.Abs(remaining))
	}

	p.ticks = ticks
	p.SqrtPrice = *sqrtPrice
	p.Tick = tick
	p.Liquidity = liquidity
	p.FeeGrowthGlobalBase = growth[0]
	p.FeeGrowthGlobalQuote = growth[1]

	res := SwapResult{Fee: fees, TicksCrossed: crossed, SqrtPrice: p.SqrtPrice, Tick: tick}
	paid := amountIn + fees
	if baseIn {
		res.Base, res.Quote = -paid, amountOut
	} else {
		res.Base, res.Quote = amountOut, -paid
	}
	return res, nil
}
