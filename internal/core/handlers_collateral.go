package core

import (
	"fmt"

	"PerpClearing/internal/event"
	"PerpClearing/internal/ledger"
)

func (c *ClearingEngine) handleDeposit(tx *txn, cmd *event.Deposit) error {
	asset, ok := ledger.GetAssetID(cmd.Asset)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidAsset, cmd.Asset)
	}
	if err := tx.vault.Deposit(cmd.Account, asset, cmd.Amount); err != nil {
		return err
	}

	tx.emit(&event.CollateralDeposited{
		Account:   cmd.Account,
		Asset:     asset.String(),
		Amount:    cmd.Amount,
		Balance:   tx.vault.Balance(cmd.Account, asset),
		Timestamp: tx.now,
	})
	return nil
}

// handleWithdraw settles the account's funding first so free collateral is
// measured on settled balances.
func (c *ClearingEngine) handleWithdraw(tx *txn, cmd *event.Withdraw) error {
	asset, ok := ledger.GetAssetID(cmd.Asset)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidAsset, cmd.Asset)
	}
	if err := c.settleAccountFunding(tx, cmd.Account); err != nil {
		return err
	}
	if err := tx.vault.Withdraw(cmd.Account, asset, cmd.Amount, tx.now); err != nil {
		return err
	}

	tx.emit(&event.CollateralWithdrawn{
		Account:   cmd.Account,
		Asset:     asset.String(),
		Amount:    cmd.Amount,
		Balance:   tx.vault.Balance(cmd.Account, asset),
		Timestamp: tx.now,
	})
	return nil
}

func (c *ClearingEngine) handleInsuranceFundTopUp(tx *txn, cmd *event.InsuranceFundTopUp) error {
	if cmd.Amount <= 0 {
		return fmt.Errorf("top up %d: %w", cmd.Amount, ErrInvalidAmount)
	}
	tx.gen.InsuranceFundTopUp(cmd.Amount)

	tx.emit(&event.InsuranceFundChanged{
		Delta:     cmd.Amount,
		Balance:   tx.vault.InsuranceFund().Balance(),
		Timestamp: tx.now,
	})
	return nil
}

// Price samples go straight into the feed. They are the only mutation of
// their command, so there is nothing to roll back.
func (c *ClearingEngine) handleIndexPriceUpdate(tx *txn, cmd *event.IndexPriceUpdate) error {
	if _, err := c.market(cmd.Market); err != nil {
		return err
	}
	return c.prices.UpdateIndexPrice(cmd.Market, cmd.PriceTimestamp, cmd.Price)
}

func (c *ClearingEngine) handleCollateralPriceUpdate(tx *txn, cmd *event.CollateralPriceUpdate) error {
	asset, ok := ledger.GetAssetID(cmd.Asset)
	if !ok || asset.IsSettlement() {
		return fmt.Errorf("%w: %s has no collateral price", ErrInvalidAsset, cmd.Asset)
	}
	return c.prices.UpdateCollateralPrice(asset, cmd.PriceTimestamp, cmd.Price)
}
