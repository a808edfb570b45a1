// internal/math/decimal.go
package math

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ParseFixed converts a human decimal string ("405.113636", "0.0625") into a
// fixed-point integer of the given config. Extra precision is rounded half-even.
func ParseFixed(s string, cfg DecimalConfig) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return FromDecimal(d, cfg)
}

// FromDecimal scales d into a fixed-point integer.
func FromDecimal(d decimal.Decimal, cfg DecimalConfig) (int64, error) {
	scaled := d.Shift(int32(cfg.DecimalPrecision)).RoundBank(0)
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s", ErrMathOverflow, d.String())
	}
	return scaled.IntPart(), nil
}

// ToDecimal is the inverse of FromDecimal.
func ToDecimal(v int64, cfg DecimalConfig) decimal.Decimal {
	return decimal.New(v, -int32(cfg.DecimalPrecision))
}

// FormatFixed renders v with exactly cfg.DecimalPrecision places.
func FormatFixed(v int64, cfg DecimalConfig) string {
	return ToDecimal(v, cfg).StringFixed(int32(cfg.DecimalPrecision))
}
