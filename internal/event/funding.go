package event

import (
	"github.com/google/uuid"
)

// SettleFunding settles an account's pending funding in one market.
type SettleFunding struct {
	Header
	Account uuid.UUID `json:"account"`
	Market  string    `json:"market"`
}

func (s *SettleFunding) EventType() EventType {
	return EventTypeSettleFunding
}

func (s *SettleFunding) MarketID() *string {
	return marketRef(s.Market)
}
