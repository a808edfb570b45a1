package event

import (
	"github.com/google/uuid"
)

// Deposit credits collateral to an account, creating it on first use.
// Idempotency key: command_id.
type Deposit struct {
	Header
	Account uuid.UUID `json:"account"`
	Asset   string    `json:"asset"`
	Amount  int64     `json:"amount"` // Fixed-point: amount scale
}

func (d *Deposit) EventType() EventType {
	return EventTypeDeposit
}

func (d *Deposit) MarketID() *string {
	return nil // Global command
}

// Withdraw debits collateral if free collateral allows it.
type Withdraw struct {
	Header
	Account uuid.UUID `json:"account"`
	Asset   string    `json:"asset"`
	Amount  int64     `json:"amount"`
}

func (w *Withdraw) EventType() EventType {
	return EventTypeWithdraw
}

func (w *Withdraw) MarketID() *string {
	return nil
}

// InsuranceFundTopUp funds the insurance fund from outside the venue.
type InsuranceFundTopUp struct {
	Header
	Caller uuid.UUID `json:"caller"`
	Amount int64     `json:"amount"`
}

func (t *InsuranceFundTopUp) EventType() EventType {
	return EventTypeInsuranceFundTopUp
}

func (t *InsuranceFundTopUp) MarketID() *string {
	return nil
}
