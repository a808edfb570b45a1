// internal/math/sqrt_price_math.go
package math

import (
	"errors"
	"math"

	"github.com/holiman/uint256"
)

var (
	ErrMathOverflow     = errors.New("fixed-point overflow")
	ErrNotEnoughReserve = errors.New("price would move past zero liquidity")
)

var one256 = uint256.NewInt(1)

func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrMathOverflow
	}
	return z, nil
}

func mulDivRoundingUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	z, err := mulDiv(x, y, d)
	if err != nil {
		return nil, err
	}
	if !new(uint256.Int).MulMod(x, y, d).IsZero() {
		if _, overflow := z.AddOverflow(z, one256); overflow {
			return nil, ErrMathOverflow
		}
	}
	return z, nil
}

func divRoundingUp(x, d *uint256.Int) *uint256.Int {
	z := new(uint256.Int).Div(x, d)
	if !new(uint256.Int).Mod(x, d).IsZero() {
		z.AddUint64(z, 1)
	}
	return z
}

func sortSqrt(a, b *uint256.Int) (*uint256.Int, *uint256.Int) {
	if a.Gt(b) {
		return b, a
	}
	return a, b
}

// ToInt64 narrows a uint256 amount to int64.
func ToInt64(v *uint256.Int) (int64, error) {
	if !v.IsUint64() || v.Uint64() > math.MaxInt64 {
		return 0, ErrMathOverflow
	}
	return int64(v.Uint64()), nil
}

func fromInt64(v int64) *uint256.Int {
	if v < 0 {
		panic("negative amount")
	}
	return uint256.NewInt(uint64(v))
}

// Amount0Delta is the base amount between two sqrt prices for liquidity L:
// L * (sqrtB - sqrtA) / (sqrtA * sqrtB), in Q96 terms.
func Amount0Delta(sqrtA, sqrtB *uint256.Int, liquidity int64, roundUp bool) (*uint256.Int, error) {
	sqrtA, sqrtB = sortSqrt(sqrtA, sqrtB)
	if sqrtA.IsZero() {
		return nil, ErrSqrtPriceOutOfRange
	}
	numerator1 := new(uint256.Int).Lsh(fromInt64(liquidity), 96)
	numerator2 := new(uint256.Int).Sub(sqrtB, sqrtA)

	if roundUp {
		v, err := mulDivRoundingUp(numerator1, numerator2, sqrtB)
		if err != nil {
			return nil, err
		}
		return divRoundingUp(v, sqrtA), nil
	}
	v, err := mulDiv(numerator1, numerator2, sqrtB)
	if err != nil {
		return nil, err
	}
	return v.Div(v, sqrtA), nil
}

// Amount1Delta is the quote amount between two sqrt prices for liquidity L:
// L * (sqrtB - sqrtA).
func Amount1Delta(sqrtA, sqrtB *uint256.Int, liquidity int64, roundUp bool) (*uint256.Int, error) {
	sqrtA, sqrtB = sortSqrt(sqrtA, sqrtB)
	diff := new(uint256.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		return mulDivRoundingUp(fromInt64(liquidity), diff, Q96)
	}
	return mulDiv(fromInt64(liquidity), diff, Q96)
}

// nextSqrtPriceFromAmount0RoundingUp moves the price by a base amount that is
// added to (price falls) or removed from (price rises) the pool.
func nextSqrtPriceFromAmount0RoundingUp(sqrtP *uint256.Int, liquidity int64, amount *uint256.Int, add bool) (*uint256.Int, error) {
	if amount.IsZero() {
		return sqrtP.Clone(), nil
	}
	numerator1 := new(uint256.Int).Lsh(fromInt64(liquidity), 96)
	product, overflow := new(uint256.Int).MulOverflow(amount, sqrtP)

	if add {
		if !overflow {
			denominator, of := new(uint256.Int).AddOverflow(numerator1, product)
			if !of {
				return mulDivRoundingUp(numerator1, sqrtP, denominator)
			}
		}
		denominator := new(uint256.Int).Div(numerator1, sqrtP)
		if _, of := denominator.AddOverflow(denominator, amount); of {
			return nil, ErrMathOverflow
		}
		return divRoundingUp(numerator1, denominator), nil
	}

	if overflow || !numerator1.Gt(product) {
		return nil, ErrNotEnoughReserve
	}
	denominator := new(uint256.Int).Sub(numerator1, product)
	return mulDivRoundingUp(numerator1, sqrtP, denominator)
}

// nextSqrtPriceFromAmount1RoundingDown moves the price by a quote amount that
// is added to (price rises) or removed from (price falls) the pool.
func nextSqrtPriceFromAmount1RoundingDown(sqrtP *uint256.Int, liquidity int64, amount *uint256.Int, add bool) (*uint256.Int, error) {
	l := fromInt64(liquidity)
	if add {
		quotient, err := mulDiv(amount, Q96, l)
		if err != nil {
			return nil, err
		}
		next, overflow := new(uint256.Int).AddOverflow(sqrtP, quotient)
		if overflow {
			return nil, ErrMathOverflow
		}
		return next, nil
	}

	quotient, err := mulDivRoundingUp(amount, Q96, l)
	if err != nil {
		return nil, err
	}
	if !sqrtP.Gt(quotient) {
		return nil, ErrNotEnoughReserve
	}
	return new(uint256.Int).Sub(sqrtP, quotient), nil
}

// NextSqrtPriceFromInput returns the price after amountIn of the input token
// enters the pool. baseIn selects base as the input token.
func NextSqrtPriceFromInput(sqrtP *uint256.Int, liquidity int64, amountIn *uint256.Int, baseIn bool) (*uint256.Int, error) {
	if liquidity <= 0 {
		return nil, ErrNotEnoughReserve
	}
	if baseIn {
		return nextSqrtPriceFromAmount0RoundingUp(sqrtP, liquidity, amountIn, true)
	}
	return nextSqrtPriceFromAmount1RoundingDown(sqrtP, liquidity, amountIn, true)
}

// NextSqrtPriceFromOutput returns the price after amountOut of the output
// token leaves the pool. baseIn selects base as the input token.
func NextSqrtPriceFromOutput(sqrtP *uint256.Int, liquidity int64, amountOut *uint256.Int, baseIn bool) (*uint256.Int, error) {
	if liquidity <= 0 {
		return nil, ErrNotEnoughReserve
	}
	if baseIn {
		return nextSqrtPriceFromAmount1RoundingDown(sqrtP, liquidity, amountOut, false)
	}
	return nextSqrtPriceFromAmount0RoundingUp(sqrtP, liquidity, amountOut, false)
}
