package event

import (
	"github.com/google/uuid"
)

// OpenPosition swaps against the market's pool and adds the result to the
// account's taker position.
type OpenPosition struct {
	Header
	Account       uuid.UUID `json:"account"`
	Market        string    `json:"market"`
	IsBaseToQuote bool      `json:"is_base_to_quote"`
	ExactInput    bool      `json:"exact_input"`
	Amount        int64     `json:"amount"`
	// Minimum output for exact input, maximum input for exact output.
	// Zero disables the check.
	OppositeAmountBound int64 `json:"opposite_amount_bound"`
	// Q64.96 decimal string, empty for no limit
	SqrtPriceLimit string `json:"sqrt_price_limit,omitempty"`
	Deadline       int64  `json:"deadline"` // 0 = none
}

func (o *OpenPosition) EventType() EventType {
	return EventTypeOpenPosition
}

func (o *OpenPosition) MarketID() *string {
	return marketRef(o.Market)
}

// ClosePosition closes the account's whole taker position in a market.
type ClosePosition struct {
	Header
	Account             uuid.UUID `json:"account"`
	Market              string    `json:"market"`
	OppositeAmountBound int64     `json:"opposite_amount_bound"`
	Deadline            int64     `json:"deadline"`
}

func (c *ClosePosition) EventType() EventType {
	return EventTypeClosePosition
}

func (c *ClosePosition) MarketID() *string {
	return marketRef(c.Market)
}
