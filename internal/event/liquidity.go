package event

import (
	"github.com/google/uuid"
)

// AddLiquidity places maker liquidity on [TickLower, TickUpper).
type AddLiquidity struct {
	Header
	Account   uuid.UUID `json:"account"`
	Market    string    `json:"market"`
	TickLower int32     `json:"tick_lower"`
	TickUpper int32     `json:"tick_upper"`
	BaseMax   int64     `json:"base_max"`
	QuoteMax  int64     `json:"quote_max"`
	MinBase   int64     `json:"min_base"`
	MinQuote  int64     `json:"min_quote"`
	Deadline  int64     `json:"deadline"`
}

func (a *AddLiquidity) EventType() EventType {
	return EventTypeAddLiquidity
}

func (a *AddLiquidity) MarketID() *string {
	return marketRef(a.Market)
}

// RemoveLiquidity burns maker liquidity; the unhedged remainder becomes a
// taker position.
type RemoveLiquidity struct {
	Header
	Account   uuid.UUID `json:"account"`
	Market    string    `json:"market"`
	TickLower int32     `json:"tick_lower"`
	TickUpper int32     `json:"tick_upper"`
	Liquidity int64     `json:"liquidity"`
	MinBase   int64     `json:"min_base"`
	MinQuote  int64     `json:"min_quote"`
	Deadline  int64     `json:"deadline"`
}

func (r *RemoveLiquidity) EventType() EventType {
	return EventTypeRemoveLiquidity
}

func (r *RemoveLiquidity) MarketID() *string {
	return marketRef(r.Market)
}
