package vault

import (
	"fmt"

	"PerpClearing/internal/state"

	"github.com/google/uuid"
)

// BadDebtBook records settled bad debt once per liquidation.
type BadDebtBook interface {
	IsSettled(liquidationID uuid.UUID) bool
	AddBadDebt(e state.BadDebtEvent) bool
}

// SettleBadDebt covers a flat account's negative value from the insurance
// fund. It is a no-op (ok=false) when the liquidation was already settled,
// when the account still holds a position, maker liquidity or
// non-settlement collateral, or when its value is not negative.
func (v *Vault) SettleBadDebt(book BadDebtBook, account uuid.UUID, marketID string, liquidationID uuid.UUID, now int64) (state.BadDebtEvent, bool, error) {
	if v.gen == nil {
		return state.BadDebtEvent{}, false, errReadOnly
	}
	if book.IsSettled(liquidationID) {
		return state.BadDebtEvent{}, false, nil
	}

	flat, err := v.IsFlat(account)
	if err != nil || !flat || v.HoldsNonSettlementCollateral(account) {
		return state.BadDebtEvent{}, false, err
	}
	value, err := v.AccountValue(account, now)
	if err != nil {
		return state.BadDebtEvent{}, false, err
	}
	if value >= 0 {
		return state.BadDebtEvent{}, false, nil
	}

	ev := state.BadDebtEvent{
		LiquidationID: liquidationID,
		Account:       account,
		MarketID:      marketID,
		Amount:        -value,
		Timestamp:     now,
	}
	if !book.AddBadDebt(ev) {
		return state.BadDebtEvent{}, false, fmt.Errorf("bad debt for liquidation %s recorded twice", liquidationID)
	}
	v.fund.PayOut(account, ev.Amount)
	return ev, true, nil
}
