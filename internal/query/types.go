package query

import "github.com/google/uuid"

// PositionResponse represents a taker position for API queries.
type PositionResponse struct {
	Account           uuid.UUID `json:"account"`
	MarketID          string    `json:"market_id"`
	Size              int64     `json:"size"`
	OpenNotional      int64     `json:"open_notional"`
	FundingCheckpoint int64     `json:"funding_checkpoint"`
	Version           int64     `json:"version"`
	AsOfSequence      int64     `json:"as_of_sequence"`
}

// FundingHistoryResponse is one settled funding payment.
type FundingHistoryResponse struct {
	Sequence  int64     `json:"sequence"`
	Account   uuid.UUID `json:"account"`
	MarketID  string    `json:"market_id"`
	Payment   int64     `json:"payment"` // positive = account paid
	Growth    int64     `json:"growth"`
	Timestamp int64     `json:"timestamp"`
}

// FundingRateResponse is one funding growth update of a market.
type FundingRateResponse struct {
	Sequence  int64  `json:"sequence"`
	MarketID  string `json:"market_id"`
	MarkTWAP  int64  `json:"mark_twap"`
	IndexTWAP int64  `json:"index_twap"`
	Delta     int64  `json:"delta"`
	Growth    int64  `json:"growth"`
	Timestamp int64  `json:"timestamp"`
}

// LiquidationResponse is one executed liquidation and the bad debt it left.
type LiquidationResponse struct {
	LiquidationID   uuid.UUID `json:"liquidation_id"`
	Sequence        int64     `json:"sequence"`
	Account         uuid.UUID `json:"account"`
	Liquidator      uuid.UUID `json:"liquidator"`
	MarketID        string    `json:"market_id"`
	ExchangedBase   int64     `json:"exchanged_base"`
	ExchangedQuote  int64     `json:"exchanged_quote"`
	Price           int64     `json:"price"`
	Penalty         int64     `json:"penalty"`
	ToInsuranceFund int64     `json:"to_insurance_fund"`
	ToLiquidator    int64     `json:"to_liquidator"`
	BadDebt         int64     `json:"bad_debt"`
	Timestamp       int64     `json:"timestamp"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

type InsuranceFundResponse struct {
	Balance      int64 `json:"balance"` // negative while in deficit
	AsOfSequence int64 `json:"as_of_sequence"`
}

type MarketStatusResponse struct {
	MarketID     string `json:"market_id"`
	Status       string `json:"status"`
	Price        int64  `json:"price"`
	UpdatedAt    int64  `json:"updated_at"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset whose journal debits and credits
// do not cancel out.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
