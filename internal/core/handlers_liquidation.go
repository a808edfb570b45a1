package core

import (
	"fmt"

	"PerpClearing/internal/event"
	"PerpClearing/internal/liquidity"
	fpmath "PerpClearing/internal/math"
	"PerpClearing/internal/state"
)

// handleLiquidate unwinds an account below maintenance margin in one market:
// its maker liquidity is removed, the resulting taker position is closed
// against the pool (or at the reference price when the market is not open),
// the penalty is split between the insurance fund and the liquidator, and a
// now flat account with negative value gets its bad debt covered.
func (c *ClearingEngine) handleLiquidate(tx *txn, cmd *event.Liquidate) error {
	m, err := c.market(cmd.Market)
	if err != nil {
		return err
	}
	if cmd.Liquidator == cmd.Account {
		return ErrSelfLiquidation
	}
	if err := c.settleFunding(tx, m, cmd.Account); err != nil {
		return err
	}

	am, err := tx.vault.Margin(cmd.Account, tx.now)
	if err != nil {
		return err
	}
	if !am.IsLiquidatable() {
		return fmt.Errorf("%w: value %d, maintenance %d",
			ErrAccountHealthy, am.AccountValue, am.MaintenanceRequirement())
	}

	makers, err := tx.pools.AccountMakers(cmd.Account, m.ID)
	if err != nil {
		return err
	}
	if tx.positions.Position(cmd.Account, m.ID).IsFlat() && len(makers) == 0 {
		return fmt.Errorf("%w in %s", ErrNoPosition, m.ID)
	}

	for _, mk := range makers {
		res, err := tx.pools.RemoveLiquidity(m, cmd.Account, liquidity.RemoveLiquidityParams{
			TickLower: mk.TickLower,
			TickUpper: mk.TickUpper,
			Liquidity: mk.Liquidity,
		}, tx.now)
		if err != nil {
			return fmt.Errorf("cancel maker range [%d, %d]: %w", mk.TickLower, mk.TickUpper, err)
		}
		if err := c.settleRemoval(tx, m, cmd.Account, res); err != nil {
			return err
		}
	}

	liquidationID := cmd.LiquidationID()
	rec := state.LiquidationRecord{
		LiquidationID: liquidationID,
		Account:       cmd.Account,
		Liquidator:    cmd.Liquidator,
		MarketID:      m.ID,
		Timestamp:     tx.now,
	}

	var price int64
	if size := tx.positions.Position(cmd.Account, m.ID).Size; size != 0 {
		var res liquidity.SwapResult
		if m.IsOpen() {
			if res, err = tx.pools.Swap(m, closeParams(size)); err != nil {
				return err
			}
		} else {
			res = referenceFill(m, size)
		}
		realized := tx.positions.UpdatePosition(cmd.Account, m.ID, res.Base, res.Quote)
		if err := c.emitPositionChanged(tx, m, cmd.Account, res, realized); err != nil {
			return err
		}

		penalty := fpmath.ApplyRatio(res.ExchangedNotional(), m.Risk.LiquidationPenaltyRatio, fpmath.RoundUp)
		toFund, toLiquidator := state.SplitPenalty(penalty, m.Risk.InsuranceFundShare)
		tx.vault.InsuranceFund().Receive(cmd.Account, cmd.Liquidator, toFund, toLiquidator)

		rec.ExchangedBase, rec.ExchangedQuote = res.Base, res.Quote
		rec.Penalty, rec.ToInsuranceFund, rec.ToLiquidator = penalty, toFund, toLiquidator
		price = fpmath.ComputeEntryPrice(res.Base, res.Quote)
	}
	tx.liquidations.AddRecord(rec)

	badDebt, settled, err := tx.vault.SettleBadDebt(tx.liquidations, cmd.Account, m.ID, liquidationID, tx.now)
	if err != nil {
		return err
	}
	outcome := state.LiquidationOutcomeCompleted
	if settled {
		outcome = state.LiquidationOutcomeBadDebtSettled
		tx.emit(&event.BadDebtSettled{
			LiquidationID: liquidationID,
			Account:       cmd.Account,
			MarketID:      m.ID,
			Amount:        badDebt.Amount,
			Timestamp:     tx.now,
		})
	} else {
		value, err := tx.vault.AccountValue(cmd.Account, tx.now)
		if err != nil {
			return err
		}
		if value < 0 {
			// Still holds positions elsewhere; bad debt waits until flat.
			outcome = state.LiquidationOutcomeDeficit
		}
	}
	tx.liquidations.MarkOutcome(liquidationID, outcome)

	tx.emit(&event.PositionLiquidated{
		LiquidationID:   liquidationID,
		Account:         cmd.Account,
		Liquidator:      cmd.Liquidator,
		MarketID:        m.ID,
		ExchangedBase:   rec.ExchangedBase,
		ExchangedQuote:  rec.ExchangedQuote,
		Price:           price,
		Penalty:         rec.Penalty,
		ToInsuranceFund: rec.ToInsuranceFund,
		ToLiquidator:    rec.ToLiquidator,
		Timestamp:       tx.now,
	})
	if delta := rec.ToInsuranceFund - badDebt.Amount; delta != 0 {
		tx.emit(&event.InsuranceFundChanged{
			Delta:     delta,
			Balance:   tx.vault.InsuranceFund().Balance(),
			Timestamp: tx.now,
		})
	}

	if c.metrics != nil {
		amount := badDebt.Amount
		tx.onCommit = append(tx.onCommit, func() {
			c.metrics.Liquidations.WithLabelValues(m.ID, outcome.String()).Inc()
			if amount > 0 {
				c.metrics.BadDebtTotal.WithLabelValues(m.ID).Add(float64(amount))
			}
		})
	}
	return nil
}
