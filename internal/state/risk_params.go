package state

import (
	"fmt"

	"PerpClearing/internal/ledger"
	fpmath "PerpClearing/internal/math"
)

// RiskParams defines margin and liquidation parameters per market.
// All ratios are parts per million.
type RiskParams struct {
	IMRatio                 int64 // initial margin
	MMRatio                 int64 // maintenance margin
	LiquidationPenaltyRatio int64 // of exchanged notional
	InsuranceFundShare      int64 // share of the penalty kept by the insurance fund
	MaxPositionNotional     int64 // quote scale; 0 = unlimited
}

var (
	DefaultRiskParams = RiskParams{
		IMRatio:                 100_000, // 10%
		MMRatio:                 62_500,  // 6.25%
		LiquidationPenaltyRatio: 25_000,  // 2.5%
		InsuranceFundShare:      500_000, // 50%
		MaxPositionNotional:     0,
	}

	// DefaultCollateralRatios discount non-settlement collateral when valuing
	// an account.
	DefaultCollateralRatios = map[ledger.AssetID]int64{
		ledger.AssetUSDC: 1_000_000,
		ledger.AssetWETH: 800_000,
		ledger.AssetWBTC: 800_000,
	}
)

const (
	DefaultFeeRatio      int64 = 10_000 // 1%
	DefaultTickSpacing   int32 = 200
	DefaultFundingPeriod int64 = 3600
	DefaultTwapInterval  int64 = 900
)

// DefaultMarkets are used when no market file is configured.
func DefaultMarkets() []*Market {
	return []*Market{
		NewMarket("ETH-USD", "ETH", 2_000*fpmath.PriceScale),
		NewMarket("BTC-USD", "BTC", 40_000*fpmath.PriceScale),
	}
}

// NewMarket builds an open market with default parameters.
func NewMarket(id, baseAsset string, initialPrice int64) *Market {
	return &Market{
		ID:            id,
		BaseAsset:     baseAsset,
		QuoteAsset:    ledger.SettlementAsset,
		FeeRatio:      DefaultFeeRatio,
		TickSpacing:   DefaultTickSpacing,
		InitialPrice:  initialPrice,
		Risk:          DefaultRiskParams,
		FundingPeriod: DefaultFundingPeriod,
		TwapInterval:  DefaultTwapInterval,
		Status:        MarketStatusOpen,
	}
}

// ValidateRiskParams checks that risk parameters are within valid ranges:
// 0 < mm < im <= 100%, penalty and insurance share within [0, 100%].
func ValidateRiskParams(p RiskParams) error {
	if p.MMRatio <= 0 {
		return fmt.Errorf("mm_ratio must be > 0, got %d", p.MMRatio)
	}
	if p.IMRatio <= p.MMRatio {
		return fmt.Errorf("im_ratio (%d) must be > mm_ratio (%d)", p.IMRatio, p.MMRatio)
	}
	if p.IMRatio > fpmath.RatioScale {
		return fmt.Errorf("im_ratio must be <= %d, got %d", fpmath.RatioScale, p.IMRatio)
	}
	if p.LiquidationPenaltyRatio < 0 || p.LiquidationPenaltyRatio > fpmath.RatioScale {
		return fmt.Errorf("liquidation_penalty_ratio out of range: %d", p.LiquidationPenaltyRatio)
	}
	if p.InsuranceFundShare < 0 || p.InsuranceFundShare > fpmath.RatioScale {
		return fmt.Errorf("insurance_fund_share out of range: %d", p.InsuranceFundShare)
	}
	if p.MaxPositionNotional < 0 {
		return fmt.Errorf("max_position_notional must be >= 0, got %d", p.MaxPositionNotional)
	}
	return nil
}

// ValidateMarket checks the static configuration of a market.
func ValidateMarket(m *Market) error {
	if m.ID == "" {
		return fmt.Errorf("market id is empty")
	}
	if !m.QuoteAsset.IsSettlement() {
		return fmt.Errorf("quote asset must be %s, got %s", ledger.SettlementAsset, m.QuoteAsset)
	}
	if m.FeeRatio < 0 || m.FeeRatio >= fpmath.RatioScale {
		return fmt.Errorf("fee_ratio out of range: %d", m.FeeRatio)
	}
	if m.TickSpacing <= 0 {
		return fmt.Errorf("tick_spacing must be > 0, got %d", m.TickSpacing)
	}
	if m.InitialPrice <= 0 {
		return fmt.Errorf("initial_price must be > 0, got %d", m.InitialPrice)
	}
	if m.FundingPeriod <= 0 {
		return fmt.Errorf("funding_period must be > 0, got %d", m.FundingPeriod)
	}
	if m.TwapInterval < 0 {
		return fmt.Errorf("twap_interval must be >= 0, got %d", m.TwapInterval)
	}
	return ValidateRiskParams(m.Risk)
}
