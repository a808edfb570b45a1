package state

import (
	"math"

	fpmath "PerpClearing/internal/math"
)

// Exposure is an account's risk in one market, valued at the index price.
type Exposure struct {
	MarketID string
	// Size is the taker size plus the impermanent base of maker liquidity.
	Size int64
	// OrderDebtValue is the value of the base and quote a maker supplied.
	OrderDebtValue int64
	IndexPrice     int64
	Risk           RiskParams
}

func (e Exposure) Notional() int64 {
	return fpmath.Abs(fpmath.ComputeNotional(e.Size, e.IndexPrice))
}

// AccountMargin is a cross-margin view of one account.
type AccountMargin struct {
	// CollateralValue is the haircut value of all collateral balances.
	CollateralValue int64
	// AccountValue adds taker unrealized PnL, pending funding and maker PnL.
	AccountValue int64
	Exposures    []Exposure
}

// TotalNotional is the sum of |size x index| across markets.
func (am AccountMargin) TotalNotional() int64 {
	var total int64
	for _, e := range am.Exposures {
		total += e.Notional()
	}
	return total
}

// InitialRequirement uses max(position notional, maker order debt value) per
// market so resting liquidity is margined like the position it can become.
func (am AccountMargin) InitialRequirement() int64 {
	var total int64
	for _, e := range am.Exposures {
		base := fpmath.Max(e.Notional(), e.OrderDebtValue)
		total += fpmath.ApplyRatio(base, e.Risk.IMRatio, fpmath.RoundUp)
	}
	return total
}

func (am AccountMargin) MaintenanceRequirement() int64 {
	var total int64
	for _, e := range am.Exposures {
		total += fpmath.ApplyRatio(e.Notional(), e.Risk.MMRatio, fpmath.RoundUp)
	}
	return total
}

// MarginRatio returns account value / total notional in parts per million,
// math.MaxInt64 when the account has no notional.
func (am AccountMargin) MarginRatio() int64 {
	notional := am.TotalNotional()
	if notional == 0 {
		return math.MaxInt64
	}
	return fpmath.ComputeRatio(am.AccountValue, notional)
}

// FreeCollateral is min(collateral value, account value) - initial
// requirement. Unrealized profit cannot be withdrawn; unrealized loss
// reduces what can.
func (am AccountMargin) FreeCollateral() int64 {
	return fpmath.Min(am.CollateralValue, am.AccountValue) - am.InitialRequirement()
}

// MeetsInitialMargin reports whether the account may increase exposure.
func (am AccountMargin) MeetsInitialMargin() bool {
	return am.FreeCollateral() >= 0
}

// IsLiquidatable reports whether account value is below the maintenance
// requirement. Accounts without notional are never liquidatable.
func (am AccountMargin) IsLiquidatable() bool {
	if am.TotalNotional() == 0 {
		return false
	}
	return am.AccountValue < am.MaintenanceRequirement()
}

// Status classifies the account the way the ops surface reports it.
func (am AccountMargin) Status() MarginStatus {
	if am.IsLiquidatable() {
		return MarginStatusLiquidatable
	}
	if am.TotalNotional() > 0 && am.AccountValue < am.InitialRequirement() {
		return MarginStatusAtRisk
	}
	return MarginStatusHealthy
}

// MarginStatus represents user's margin health
type MarginStatus int

const (
	MarginStatusHealthy MarginStatus = iota
	MarginStatusAtRisk
	MarginStatusLiquidatable
)

func (ms MarginStatus) String() string {
	switch ms {
	case MarginStatusHealthy:
		return "Healthy"
	case MarginStatusAtRisk:
		return "AtRisk"
	case MarginStatusLiquidatable:
		return "Liquidatable"
	default:
		return "Unknown"
	}
}
