package state

import (
	"PerpClearing/internal/ledger"
	fpmath "PerpClearing/internal/math"

	"github.com/google/uuid"
)

// InsuranceFund is the reserve that absorbs liquidation penalties and pays
// out bad debt. Its balance lives in the system:insurance_fund ledger
// account and may go negative, which records a systemic deficit.
type InsuranceFund struct {
	balances ledger.BalanceReader
	gen      *ledger.JournalGenerator
}

// NewInsuranceFund returns a read-only view over balances.
func NewInsuranceFund(balances ledger.BalanceReader) *InsuranceFund {
	return &InsuranceFund{balances: balances}
}

// Staged returns a fund that reads through balances and posts to gen.
func (f *InsuranceFund) Staged(balances ledger.BalanceReader, gen *ledger.JournalGenerator) *InsuranceFund {
	return &InsuranceFund{balances: balances, gen: gen}
}

func (f *InsuranceFund) Balance() int64 {
	return f.balances.GetBalance(ledger.InsuranceFundAccount)
}

// Deficit is the amount by which the fund is negative, zero otherwise.
func (f *InsuranceFund) Deficit() int64 {
	if b := f.Balance(); b < 0 {
		return -b
	}
	return 0
}

// PayOut moves amount from the fund to the account's settlement balance.
// It never blocks on a low balance.
func (f *InsuranceFund) PayOut(to uuid.UUID, amount int64) {
	f.gen.BadDebtCoverage(to, amount)
}

// Receive takes the fund's share of a liquidation penalty from the
// liquidated account and pays the liquidator the rest.
func (f *InsuranceFund) Receive(from, liquidator uuid.UUID, toFund, toLiquidator int64) {
	f.gen.LiquidationPenalty(from, liquidator, toFund, toLiquidator)
}

// SplitPenalty divides a penalty between the fund and the liquidator; the
// fund keeps any rounding remainder.
func SplitPenalty(penalty, insuranceShare int64) (toFund, toLiquidator int64) {
	toFund = fpmath.ApplyRatio(penalty, insuranceShare, fpmath.RoundUp)
	return toFund, penalty - toFund
}
