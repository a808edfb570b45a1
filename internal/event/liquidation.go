package event

import (
	"github.com/google/uuid"
)

// Liquidate unwinds an account below maintenance margin in one market.
// The liquidation id is derived from the command id.
type Liquidate struct {
	Header
	Liquidator uuid.UUID `json:"liquidator"`
	Account    uuid.UUID `json:"account"`
	Market     string    `json:"market"`
}

func (l *Liquidate) EventType() EventType {
	return EventTypeLiquidate
}

func (l *Liquidate) MarketID() *string {
	return marketRef(l.Market)
}

// LiquidationID is stable across replays of the same command.
func (l *Liquidate) LiquidationID() uuid.UUID {
	return uuid.NewSHA1(liquidationNamespace, l.CommandID[:])
}

var liquidationNamespace = uuid.MustParse("5b0c3f52-6a4e-4d0b-9a57-2f43c1a8e9d1")
