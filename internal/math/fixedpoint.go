// internal/math/fixedpoint.go
package math

import (
	"math"
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Base, quote and collateral amounts share one precision so the pool price
	// equals the human price.
	AmountConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // 0.000001
	PriceConfig  = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // 0.000001 USDC
	RatioConfig  = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // parts per million
)

const (
	AmountScale int64 = 1_000_000
	PriceScale  int64 = 1_000_000
	RatioScale  int64 = 1_000_000

	// MaxAmount bounds every externally supplied amount so that products of two
	// amounts stay well inside 128 bits.
	MaxAmount int64 = 1_000_000_000_000_000 // 1e9 units
)

var bigIntPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBigInt() *big.Int {
	return bigIntPool.Get().(*big.Int)
}

func putBigInt(v *big.Int) {
	v.SetInt64(0)
	bigIntPool.Put(v)
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown                         // toward negative infinity
	RoundUp                           // toward positive infinity
	RoundTowardZero
)

// MultiplyInt128 performs a * b without overflow. The caller owns the result.
func MultiplyInt128(a, b int64) *big.Int {
	result := new(big.Int)
	return result.Mul(big.NewInt(a), big.NewInt(b))
}

// DivideInt128 performs numerator / denominator with the given rounding and
// saturates at the int64 bounds.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	if denominator == 0 {
		return 0
	}
	num := getBigInt().Set(numerator)
	denom := getBigInt().SetInt64(denominator)
	if denominator < 0 {
		num.Neg(num)
		denom.Neg(denom)
	}

	quotient := getBigInt()
	remainder := getBigInt()
	// QuoRem truncates toward zero; remainder carries the numerator's sign.
	quotient.QuoRem(num, denom, remainder)

	if remainder.Sign() != 0 {
		negative := num.Sign() < 0
		switch roundingMode {
		case RoundDown:
			if negative {
				quotient.Sub(quotient, big.NewInt(1))
			}
		case RoundUp:
			if !negative {
				quotient.Add(quotient, big.NewInt(1))
			}
		case RoundHalfEven:
			twice := getBigInt().Abs(remainder)
			twice.Lsh(twice, 1)
			cmp := twice.Cmp(denom)
			putBigInt(twice)

			away := cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1)
			if away {
				if negative {
					quotient.Sub(quotient, big.NewInt(1))
				} else {
					quotient.Add(quotient, big.NewInt(1))
				}
			}
		}
	}

	result := saturate(quotient)

	putBigInt(num)
	putBigInt(denom)
	putBigInt(quotient)
	putBigInt(remainder)

	return result
}

func saturate(v *big.Int) int64 {
	if v.IsInt64() {
		return v.Int64()
	}
	if v.Sign() > 0 {
		return math.MaxInt64
	}
	return math.MinInt64
}

// MulDiv computes a * b / denominator with a 128-bit intermediate.
func MulDiv(a, b, denominator int64, roundingMode RoundingMode) int64 {
	product := MultiplyInt128(a, b)
	return DivideInt128(product, denominator, roundingMode)
}

// ApplyRatio scales amount by a parts-per-million ratio.
func ApplyRatio(amount, ratio int64, roundingMode RoundingMode) int64 {
	return MulDiv(amount, ratio, RatioScale, roundingMode)
}

// ComputeNotional returns the signed quote value of size base units at price.
func ComputeNotional(size, price int64) int64 {
	return MulDiv(size, price, PriceScale, RoundHalfEven)
}

// ComputeUnrealizedPnL values an open position at price. Open notional is the
// signed quote flow at entry (negative for longs), so PnL is the sum.
func ComputeUnrealizedPnL(size, openNotional, price int64) int64 {
	return ComputeNotional(size, price) + openNotional
}

// ComputeEntryPrice is |openNotional| / |size| in price units. Zero when flat.
func ComputeEntryPrice(size, openNotional int64) int64 {
	if size == 0 {
		return 0
	}
	return MulDiv(Abs(openNotional), PriceScale, Abs(size), RoundHalfEven)
}

// ComputeRatio returns numerator / denominator in parts per million. A zero
// denominator yields math.MaxInt64.
func ComputeRatio(numerator, denominator int64) int64 {
	if denominator == 0 {
		return math.MaxInt64
	}
	return MulDiv(numerator, RatioScale, denominator, RoundDown)
}

func Abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func Sign(v int64) int64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// AddChecked returns a + b and whether the sum stayed in range.
func AddChecked(a, b int64) (int64, bool) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, false
	}
	return s, true
}
