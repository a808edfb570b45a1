package event

import (
	"github.com/google/uuid"
)

// PauseMarket is owner-only. It freezes the index TWAP as the ending price.
type PauseMarket struct {
	Header
	Caller uuid.UUID `json:"caller"`
	Market string    `json:"market"`
}

func (p *PauseMarket) EventType() EventType {
	return EventTypePauseMarket
}

func (p *PauseMarket) MarketID() *string {
	return marketRef(p.Market)
}

// CloseMarket is owner-only and closes a paused market at Price.
type CloseMarket struct {
	Header
	Caller uuid.UUID `json:"caller"`
	Market string    `json:"market"`
	Price  int64     `json:"price"`
}

func (c *CloseMarket) EventType() EventType {
	return EventTypeCloseMarket
}

func (c *CloseMarket) MarketID() *string {
	return marketRef(c.Market)
}

// CloseMarketAfterCooldown may be sent by anyone once the pause cooldown
// has passed.
type CloseMarketAfterCooldown struct {
	Header
	Caller uuid.UUID `json:"caller"`
	Market string    `json:"market"`
}

func (c *CloseMarketAfterCooldown) EventType() EventType {
	return EventTypeCloseMarketAfterCooldown
}

func (c *CloseMarketAfterCooldown) MarketID() *string {
	return marketRef(c.Market)
}
