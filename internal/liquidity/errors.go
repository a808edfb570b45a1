package liquidity

import "errors"

var (
	ErrInvalidTickRange      = errors.New("invalid tick range")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInvalidPriceLimit     = errors.New("invalid sqrt price limit")
	ErrNoLiquidityPosition   = errors.New("no liquidity position")
	ErrUnknownPool           = errors.New("unknown pool")
)
