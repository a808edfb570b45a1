package projection

import (
	"context"
	"database/sql"

	"PerpClearing/internal/event"
)

// applyRecord projects one emitted record. Records without a table of their
// own (deposits, withdrawals, liquidity changes) are served from the event
// log directly.
func applyRecord(ctx context.Context, tx *sql.Tx, seq int64, r event.Record) error {
	switch rec := r.(type) {
	case *event.FundingSettled:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.funding_history
				(sequence, account_id, market_id, payment, growth, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT DO NOTHING
		`, seq, rec.Account, rec.MarketID, rec.Payment, rec.Growth, rec.Timestamp)
		return err

	case *event.FundingGrowthUpdated:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.funding_rates
				(sequence, market_id, mark_twap, index_twap, delta, growth, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT DO NOTHING
		`, seq, rec.MarketID, rec.MarkTWAP, rec.IndexTWAP, rec.Delta, rec.Growth, rec.Timestamp)
		return err

	case *event.PositionLiquidated:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.liquidation_history
				(liquidation_id, sequence, account_id, liquidator_id, market_id, exchanged_base,
				 exchanged_quote, price, penalty, to_insurance_fund, to_liquidator, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (liquidation_id) DO NOTHING
		`, rec.LiquidationID, seq, rec.Account, rec.Liquidator, rec.MarketID, rec.ExchangedBase,
			rec.ExchangedQuote, rec.Price, rec.Penalty, rec.ToInsuranceFund, rec.ToLiquidator, rec.Timestamp)
		return err

	case *event.BadDebtSettled:
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.liquidation_history SET bad_debt = $2 WHERE liquidation_id = $1
		`, rec.LiquidationID, rec.Amount)
		return err

	case *event.InsuranceFundChanged:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.insurance_fund (id, balance, last_sequence)
			VALUES (1, $1, $2)
			ON CONFLICT (id) DO UPDATE SET balance = $1, last_sequence = $2
		`, rec.Balance, seq)
		return err

	case *event.MarketStatusChanged:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.market_status (market_id, status, price, last_sequence, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (market_id) DO UPDATE SET status = $2, price = $3, last_sequence = $4, updated_at = $5
		`, rec.MarketID, rec.To, rec.Price, seq, rec.Timestamp)
		return err
	}
	return nil
}
