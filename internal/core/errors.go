package core

import (
	"errors"

	"PerpClearing/internal/liquidity"
	"PerpClearing/internal/state"
	"PerpClearing/internal/vault"
)

// Errors owned by other packages are re-exported so callers of the engine
// only need this package for errors.Is.
var (
	ErrInvalidAmount              = state.ErrInvalidAmount
	ErrDeadlineExpired            = state.ErrDeadlineExpired
	ErrSlippageExceeded           = state.ErrSlippageExceeded
	ErrMarketNotOpen              = state.ErrMarketNotOpen
	ErrMarketNotPaused            = state.ErrMarketNotPaused
	ErrCooldownNotExpired         = state.ErrCooldownNotExpired
	ErrUnknownMarket              = state.ErrUnknownMarket
	ErrInvalidTickRange           = liquidity.ErrInvalidTickRange
	ErrInsufficientLiquidity      = liquidity.ErrInsufficientLiquidity
	ErrInvalidAsset               = vault.ErrInvalidAsset
	ErrInsufficientFreeCollateral = vault.ErrInsufficientFreeCollateral
)

var (
	ErrInsufficientMargin  = errors.New("insufficient margin")
	ErrMaxPositionNotional = errors.New("max position notional exceeded")
	ErrAccountHealthy      = errors.New("account is not liquidatable")
	ErrNoPosition          = errors.New("no position to liquidate")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrSelfLiquidation     = errors.New("account cannot liquidate itself")
	ErrInvalidCommand      = errors.New("invalid command")
	ErrSequenceGap         = errors.New("sequence gap")
	ErrOutOfOrder          = errors.New("out-of-order command")
	ErrInvariantViolation  = errors.New("INVARIANT VIOLATION")
)
