// internal/math/tick_math.go
package math

import (
	"errors"
	"fmt"
	"math/big"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"
)

const (
	MinTick int32 = -887272
	MaxTick int32 = 887272

	// big.Float precision for 1.0001^(tick/2). 256 bits keeps the Q64.96
	// result exact to the last unit across the full tick range.
	tickFloatPrec = 256

	sqrtPriceCacheSize = 8192
)

var (
	ErrTickOutOfRange      = errors.New("tick out of range")
	ErrSqrtPriceOutOfRange = errors.New("sqrt price out of range")
)

var (
	// Q96 = 2^96, Q128 = 2^128, Q192 = 2^192
	Q96  = new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	Q128 = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	q192 = new(big.Int).Lsh(big.NewInt(1), 192)

	MinSqrtPrice *uint256.Int
	MaxSqrtPrice *uint256.Int

	sqrtTickBase *big.Float // sqrt(1.0001)
	sqrtCache    *lru.Cache[int32, uint256.Int]
)

func init() {
	one := new(big.Float).SetPrec(tickFloatPrec).SetInt64(10001)
	one.Quo(one, new(big.Float).SetPrec(tickFloatPrec).SetInt64(10000))
	sqrtTickBase = new(big.Float).SetPrec(tickFloatPrec).Sqrt(one)

	cache, err := lru.New[int32, uint256.Int](sqrtPriceCacheSize)
	if err != nil {
		panic(fmt.Sprintf("sqrt price cache: %v", err))
	}
	sqrtCache = cache

	MinSqrtPrice = computeSqrtPriceAtTick(MinTick)
	MaxSqrtPrice = computeSqrtPriceAtTick(MaxTick)
}

// SqrtPriceAtTick returns sqrt(1.0001^tick) as a Q64.96 number.
func SqrtPriceAtTick(tick int32) (*uint256.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("%w: %d", ErrTickOutOfRange, tick)
	}
	if v, ok := sqrtCache.Get(tick); ok {
		return &v, nil
	}
	v := computeSqrtPriceAtTick(tick)
	sqrtCache.Add(tick, *v)
	return v, nil
}

// MustSqrtPriceAtTick is SqrtPriceAtTick for ticks already validated by the caller.
func MustSqrtPriceAtTick(tick int32) *uint256.Int {
	v, err := SqrtPriceAtTick(tick)
	if err != nil {
		panic(err)
	}
	return v
}

func computeSqrtPriceAtTick(tick int32) *uint256.Int {
	abs := tick
	if abs < 0 {
		abs = -abs
	}

	result := new(big.Float).SetPrec(tickFloatPrec).SetInt64(1)
	base := new(big.Float).SetPrec(tickFloatPrec).Set(sqrtTickBase)
	for n := uint32(abs); n > 0; n >>= 1 {
		if n&1 == 1 {
			result.Mul(result, base)
		}
		base.Mul(base, base)
	}
	if tick < 0 {
		result.Quo(new(big.Float).SetPrec(tickFloatPrec).SetInt64(1), result)
	}

	result.Mul(result, new(big.Float).SetPrec(tickFloatPrec).SetInt(Q96.ToBig()))
	whole, _ := result.Int(nil)

	out, overflow := uint256.FromBig(whole)
	if overflow {
		panic("sqrt price overflows 256 bits")
	}
	return out
}

// TickAtSqrtPrice returns the greatest tick whose sqrt price is <= sqrtPrice.
func TickAtSqrtPrice(sqrtPrice *uint256.Int) (int32, error) {
	if sqrtPrice.Lt(MinSqrtPrice) || sqrtPrice.Gt(MaxSqrtPrice) {
		return 0, fmt.Errorf("%w: %s", ErrSqrtPriceOutOfRange, sqrtPrice.Dec())
	}

	lo, hi := MinTick, MaxTick
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		if MustSqrtPriceAtTick(mid).Cmp(sqrtPrice) <= 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, nil
}

// SqrtPriceFromPrice converts a price-scaled quote-per-base price to Q64.96.
func SqrtPriceFromPrice(price int64) (*uint256.Int, error) {
	if price <= 0 {
		return nil, fmt.Errorf("%w: price %d", ErrSqrtPriceOutOfRange, price)
	}
	// sqrt(price / PriceScale) * 2^96 = sqrt(price * 2^192 / PriceScale)
	v := new(big.Int).Mul(big.NewInt(price), q192)
	v.Quo(v, big.NewInt(PriceScale))
	v.Sqrt(v)

	out, overflow := uint256.FromBig(v)
	if overflow || out.Lt(MinSqrtPrice) || out.Gt(MaxSqrtPrice) {
		return nil, fmt.Errorf("%w: price %d", ErrSqrtPriceOutOfRange, price)
	}
	return out, nil
}

// PriceFromSqrtPrice converts a Q64.96 sqrt price back to price units,
// rounding down.
func PriceFromSqrtPrice(sqrtPrice *uint256.Int) int64 {
	s := sqrtPrice.ToBig()
	v := new(big.Int).Mul(s, s)
	v.Mul(v, big.NewInt(PriceScale))
	v.Quo(v, q192)
	return saturate(v)
}

// PriceAtTick is 1.0001^tick in price units.
func PriceAtTick(tick int32) (int64, error) {
	s, err := SqrtPriceAtTick(tick)
	if err != nil {
		return 0, err
	}
	return PriceFromSqrtPrice(s), nil
}
