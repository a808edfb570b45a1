package event

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// RecordType discriminates the records the core emits after a command.
type RecordType int32

const (
	RecordPositionChanged RecordType = iota + 1
	RecordLiquidityChanged
	RecordFundingSettled
	RecordFundingGrowthUpdated
	RecordPositionLiquidated
	RecordBadDebtSettled
	RecordCollateralDeposited
	RecordCollateralWithdrawn
	RecordMarketStatusChanged
	RecordInsuranceFundChanged
)

func (rt RecordType) String() string {
	switch rt {
	case RecordPositionChanged:
		return "position_changed"
	case RecordLiquidityChanged:
		return "liquidity_changed"
	case RecordFundingSettled:
		return "funding_settled"
	case RecordFundingGrowthUpdated:
		return "funding_growth_updated"
	case RecordPositionLiquidated:
		return "position_liquidated"
	case RecordBadDebtSettled:
		return "bad_debt_settled"
	case RecordCollateralDeposited:
		return "collateral_deposited"
	case RecordCollateralWithdrawn:
		return "collateral_withdrawn"
	case RecordMarketStatusChanged:
		return "market_status_changed"
	case RecordInsuranceFundChanged:
		return "insurance_fund_changed"
	default:
		return "unknown"
	}
}

// GlobalMarket is the subject token for records without a market.
const GlobalMarket = "global"

// Record is an emitted fact. Each carries the full deltas it applied.
type Record interface {
	RecordType() RecordType
	Market() string
}

type PositionChanged struct {
	Account        uuid.UUID `json:"account"`
	MarketID       string    `json:"market"`
	ExchangedBase  int64     `json:"exchanged_base"`
	ExchangedQuote int64     `json:"exchanged_quote"`
	Fee            int64     `json:"fee"`
	RealizedPnL    int64     `json:"realized_pnl"`
	Size           int64     `json:"size"`
	OpenNotional   int64     `json:"open_notional"`
	MarkPrice      int64     `json:"mark_price"`
	Timestamp      int64     `json:"timestamp"`
}

func (r *PositionChanged) RecordType() RecordType { return RecordPositionChanged }
func (r *PositionChanged) Market() string         { return r.MarketID }

type LiquidityChanged struct {
	Account   uuid.UUID `json:"account"`
	MarketID  string    `json:"market"`
	TickLower int32     `json:"tick_lower"`
	TickUpper int32     `json:"tick_upper"`
	// Signed: positive when added.
	Liquidity int64 `json:"liquidity"`
	Base      int64 `json:"base"`
	Quote     int64 `json:"quote"`
	// Fees collected on removal, quote units.
	FeeCollected int64 `json:"fee_collected"`
	// Taker position delta left by a removal.
	TakerBase  int64 `json:"taker_base"`
	TakerQuote int64 `json:"taker_quote"`
	Timestamp  int64 `json:"timestamp"`
}

func (r *LiquidityChanged) RecordType() RecordType { return RecordLiquidityChanged }
func (r *LiquidityChanged) Market() string         { return r.MarketID }

type FundingSettled struct {
	Account   uuid.UUID `json:"account"`
	MarketID  string    `json:"market"`
	Payment   int64     `json:"payment"` // positive = account paid
	Growth    int64     `json:"growth"`
	Timestamp int64     `json:"timestamp"`
}

func (r *FundingSettled) RecordType() RecordType { return RecordFundingSettled }
func (r *FundingSettled) Market() string         { return r.MarketID }

type FundingGrowthUpdated struct {
	MarketID  string `json:"market"`
	MarkTWAP  int64  `json:"mark_twap"`
	IndexTWAP int64  `json:"index_twap"`
	Delta     int64  `json:"delta"`
	Growth    int64  `json:"growth"`
	Timestamp int64  `json:"timestamp"`
}

func (r *FundingGrowthUpdated) RecordType() RecordType { return RecordFundingGrowthUpdated }
func (r *FundingGrowthUpdated) Market() string         { return r.MarketID }

type PositionLiquidated struct {
	LiquidationID   uuid.UUID `json:"liquidation_id"`
	Account         uuid.UUID `json:"account"`
	Liquidator      uuid.UUID `json:"liquidator"`
	MarketID        string    `json:"market"`
	ExchangedBase   int64     `json:"exchanged_base"`
	ExchangedQuote  int64     `json:"exchanged_quote"`
	Price           int64     `json:"price"`
	Penalty         int64     `json:"penalty"`
	ToInsuranceFund int64     `json:"to_insurance_fund"`
	ToLiquidator    int64     `json:"to_liquidator"`
	Timestamp       int64     `json:"timestamp"`
}

func (r *PositionLiquidated) RecordType() RecordType { return RecordPositionLiquidated }
func (r *PositionLiquidated) Market() string         { return r.MarketID }

type BadDebtSettled struct {
	LiquidationID uuid.UUID `json:"liquidation_id"`
	Account       uuid.UUID `json:"account"`
	MarketID      string    `json:"market"`
	Amount        int64     `json:"amount"`
	Timestamp     int64     `json:"timestamp"`
}

func (r *BadDebtSettled) RecordType() RecordType { return RecordBadDebtSettled }
func (r *BadDebtSettled) Market() string         { return r.MarketID }

type CollateralDeposited struct {
	Account   uuid.UUID `json:"account"`
	Asset     string    `json:"asset"`
	Amount    int64     `json:"amount"`
	Balance   int64     `json:"balance"`
	Timestamp int64     `json:"timestamp"`
}

func (r *CollateralDeposited) RecordType() RecordType { return RecordCollateralDeposited }
func (r *CollateralDeposited) Market() string         { return GlobalMarket }

type CollateralWithdrawn struct {
	Account   uuid.UUID `json:"account"`
	Asset     string    `json:"asset"`
	Amount    int64     `json:"amount"`
	Balance   int64     `json:"balance"`
	Timestamp int64     `json:"timestamp"`
}

func (r *CollateralWithdrawn) RecordType() RecordType { return RecordCollateralWithdrawn }
func (r *CollateralWithdrawn) Market() string         { return GlobalMarket }

type MarketStatusChanged struct {
	MarketID  string `json:"market"`
	From      string `json:"from"`
	To        string `json:"to"`
	Price     int64  `json:"price"` // ending index price or close price
	Timestamp int64  `json:"timestamp"`
}

func (r *MarketStatusChanged) RecordType() RecordType { return RecordMarketStatusChanged }
func (r *MarketStatusChanged) Market() string         { return r.MarketID }

type InsuranceFundChanged struct {
	Delta     int64 `json:"delta"`
	Balance   int64 `json:"balance"`
	Timestamp int64 `json:"timestamp"`
}

func (r *InsuranceFundChanged) RecordType() RecordType { return RecordInsuranceFundChanged }
func (r *InsuranceFundChanged) Market() string         { return GlobalMarket }

// NewRecord returns an empty record for a record type name, for decoding
// stored payloads.
func NewRecord(recordType string) (Record, error) {
	switch recordType {
	case RecordPositionChanged.String():
		return &PositionChanged{}, nil
	case RecordLiquidityChanged.String():
		return &LiquidityChanged{}, nil
	case RecordFundingSettled.String():
		return &FundingSettled{}, nil
	case RecordFundingGrowthUpdated.String():
		return &FundingGrowthUpdated{}, nil
	case RecordPositionLiquidated.String():
		return &PositionLiquidated{}, nil
	case RecordBadDebtSettled.String():
		return &BadDebtSettled{}, nil
	case RecordCollateralDeposited.String():
		return &CollateralDeposited{}, nil
	case RecordCollateralWithdrawn.String():
		return &CollateralWithdrawn{}, nil
	case RecordMarketStatusChanged.String():
		return &MarketStatusChanged{}, nil
	case RecordInsuranceFundChanged.String():
		return &InsuranceFundChanged{}, nil
	}
	return nil, fmt.Errorf("unknown record type %q", recordType)
}

// DecodeRecord parses a stored record payload.
func DecodeRecord(recordType string, payload []byte) (Record, error) {
	r, err := NewRecord(recordType)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", recordType, err)
	}
	return r, nil
}
