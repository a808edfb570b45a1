package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateUserCollateralNonNegative checks a non-settlement collateral balance
// never goes negative. Settlement balances may carry debt.
func (v *InvariantValidator) ValidateUserCollateralNonNegative(userID uuid.UUID, assetID AssetID) error {
	if assetID.IsSettlement() {
		return nil
	}
	return v.tracker.ValidateNonNegative(UserCollateral(userID, assetID))
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			return fmt.Errorf("global balance for %s is non-zero: %d", assetID, total)
		}
	}

	return nil
}
