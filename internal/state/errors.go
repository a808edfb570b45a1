package state

import "errors"

// Errors shared by every package that mutates clearing state.
var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrDeadlineExpired    = errors.New("deadline expired")
	ErrSlippageExceeded   = errors.New("slippage exceeded")
	ErrMarketNotOpen      = errors.New("market not open")
	ErrMarketNotPaused    = errors.New("market not paused")
	ErrCooldownNotExpired = errors.New("close cooldown not expired")
	ErrUnknownMarket      = errors.New("unknown market")
)
