package event

import "fmt"

// IndexPriceUpdate is an index price sample from the oracle feed.
type IndexPriceUpdate struct {
	Market         string `json:"market"`
	Price          int64  `json:"price"`           // Fixed-point: price scale
	PriceSequence  int64  `json:"price_sequence"`  // Monotonic per market
	PriceTimestamp int64  `json:"price_timestamp"` // unix seconds (versioned input)
}

func (p *IndexPriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.Market, p.PriceSequence)
}

func (p *IndexPriceUpdate) EventType() EventType {
	return EventTypeIndexPriceUpdate
}

func (p *IndexPriceUpdate) MarketID() *string {
	return marketRef(p.Market)
}

func (p *IndexPriceUpdate) SourceSequence() int64 {
	return p.PriceSequence
}

func (p *IndexPriceUpdate) Time() int64 {
	return p.PriceTimestamp
}

// CollateralPriceUpdate prices a non-settlement collateral asset.
type CollateralPriceUpdate struct {
	Asset          string `json:"asset"`
	Price          int64  `json:"price"`
	PriceSequence  int64  `json:"price_sequence"`
	PriceTimestamp int64  `json:"price_timestamp"`
}

func (p *CollateralPriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:collateral_price:%d", p.Asset, p.PriceSequence)
}

func (p *CollateralPriceUpdate) EventType() EventType {
	return EventTypeCollateralPriceUpdate
}

func (p *CollateralPriceUpdate) MarketID() *string {
	return nil
}

func (p *CollateralPriceUpdate) SourceSequence() int64 {
	return p.PriceSequence
}

func (p *CollateralPriceUpdate) Time() int64 {
	return p.PriceTimestamp
}

// PriceFeed is implemented by the price commands, whose sequences tolerate
// gaps.
type PriceFeed interface {
	Event
	FeedKey() string
}

func (p *IndexPriceUpdate) FeedKey() string {
	return "index:" + p.Market
}

func (p *CollateralPriceUpdate) FeedKey() string {
	return "collateral:" + p.Asset
}
