package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceReader is the read side shared by the tracker and staged views.
type BalanceReader interface {
	GetBalance(key AccountKey) int64
}

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances   map[AccountKey]int64
	lastUpdate map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances:   make(map[AccountKey]int64),
		lastUpdate: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
	bt.lastUpdate[j.DebitAccount] = j.Timestamp
	bt.lastUpdate[j.CreditAccount] = j.Timestamp
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// LastUpdate returns the timestamp of the last journal touching key.
func (bt *BalanceTracker) LastUpdate(key AccountKey) int64 {
	return bt.lastUpdate[key]
}

// GetUserCollateral returns the user's collateral balance of one asset.
func (bt *BalanceTracker) GetUserCollateral(userID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(UserCollateral(userID, assetID))
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances (used for snapshot restore)
func (bt *BalanceTracker) Restore(balances map[AccountKey]int64) {
	bt.balances = make(map[AccountKey]int64, len(balances))
	for k, v := range balances {
		bt.balances[k] = v
	}
}

// StagedView reads balances as they would be after batch is applied.
type StagedView struct {
	base  BalanceReader
	batch *Batch
}

func NewStagedView(base BalanceReader, batch *Batch) *StagedView {
	return &StagedView{base: base, batch: batch}
}

func (v *StagedView) GetBalance(key AccountKey) int64 {
	return v.base.GetBalance(key) + v.batch.Delta(key)
}
