package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// ErrNotFound is returned when a projected row does not exist.
var ErrNotFound = errors.New("not found")

// Reader is the read surface shared by QueryService and CachedService.
type Reader interface {
	GetBalances(ctx context.Context, account uuid.UUID) (*BalanceResponse, error)
	GetPositions(ctx context.Context, account uuid.UUID) ([]PositionResponse, error)
	GetFundingHistory(ctx context.Context, account uuid.UUID, marketID *string, limit int, beforeSequence *int64) ([]FundingHistoryResponse, error)
	GetFundingRates(ctx context.Context, marketID string, limit int) ([]FundingRateResponse, error)
	GetLiquidations(ctx context.Context, account uuid.UUID, limit int) ([]LiquidationResponse, error)
	GetJournalHistory(ctx context.Context, account uuid.UUID, limit int, beforeSequence *int64) ([]JournalHistoryEntry, error)
	GetInsuranceFund(ctx context.Context) (*InsuranceFundResponse, error)
	GetMarketStatus(ctx context.Context, marketID string) (*MarketStatusResponse, error)
	VerifyIntegrity(ctx context.Context) (*IntegrityReport, error)
	Watermark(ctx context.Context) (int64, error)
}

// QueryService provides read-only access to projection tables.
// All account-level responses carry as_of_sequence for freshness.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// ClampLimit bounds a requested page size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	}
	return limit
}

// GetBalances returns the projected collateral balances of an account.
func (qs *QueryService) GetBalances(ctx context.Context, account uuid.UUID) (*BalanceResponse, error) {
	asOfSeq, err := qs.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, balance FROM projections.balances
		WHERE account_path LIKE $1
	`, escapeLike(collateralPathPrefix(account))+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &BalanceResponse{
		Account:      account,
		Balances:     make(map[string]int64),
		AsOfSequence: asOfSeq,
	}
	for rows.Next() {
		var (
			path    string
			balance int64
		)
		if err := rows.Scan(&path, &balance); err != nil {
			return nil, err
		}
		asset, err := assetFromPath(path)
		if err != nil {
			return nil, err
		}
		resp.Balances[asset] = balance
	}
	return resp, rows.Err()
}

// GetPositions returns all open taker positions of an account.
func (qs *QueryService) GetPositions(ctx context.Context, account uuid.UUID) ([]PositionResponse, error) {
	asOfSeq, err := qs.Watermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT market_id, size, open_notional, funding_checkpoint, version
		FROM projections.positions
		WHERE account_id = $1
		ORDER BY market_id
	`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		p := PositionResponse{Account: account, AsOfSequence: asOfSeq}
		if err := rows.Scan(&p.MarketID, &p.Size, &p.OpenNotional, &p.FundingCheckpoint, &p.Version); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetFundingHistory returns settled funding payments, newest first.
// Paginate by passing the smallest sequence seen as beforeSequence.
func (qs *QueryService) GetFundingHistory(
	ctx context.Context,
	account uuid.UUID,
	marketID *string,
	limit int,
	beforeSequence *int64,
) ([]FundingHistoryResponse, error) {
	query := `
		SELECT sequence, market_id, payment, growth, timestamp
		FROM projections.funding_history
		WHERE account_id = $1
	`
	args := []interface{}{account}
	argIdx := 2

	if marketID != nil {
		query += fmt.Sprintf(" AND market_id = $%d", argIdx)
		args = append(args, *marketID)
		argIdx++
	}
	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", argIdx)
	args = append(args, ClampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []FundingHistoryResponse
	for rows.Next() {
		h := FundingHistoryResponse{Account: account}
		if err := rows.Scan(&h.Sequence, &h.MarketID, &h.Payment, &h.Growth, &h.Timestamp); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// GetFundingRates returns the latest funding growth updates of a market.
func (qs *QueryService) GetFundingRates(ctx context.Context, marketID string, limit int) ([]FundingRateResponse, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, mark_twap, index_twap, delta, growth, timestamp
		FROM projections.funding_rates
		WHERE market_id = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, marketID, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rates []FundingRateResponse
	for rows.Next() {
		r := FundingRateResponse{MarketID: marketID}
		if err := rows.Scan(&r.Sequence, &r.MarkTWAP, &r.IndexTWAP, &r.Delta, &r.Growth, &r.Timestamp); err != nil {
			return nil, err
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

// GetLiquidations returns liquidations where the account was liquidated or
// acted as liquidator.
func (qs *QueryService) GetLiquidations(ctx context.Context, account uuid.UUID, limit int) ([]LiquidationResponse, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT liquidation_id, sequence, account_id, liquidator_id, market_id,
		       exchanged_base, exchanged_quote, price, penalty,
		       to_insurance_fund, to_liquidator, bad_debt, timestamp
		FROM projections.liquidation_history
		WHERE account_id = $1 OR liquidator_id = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, account, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []LiquidationResponse
	for rows.Next() {
		var r LiquidationResponse
		if err := rows.Scan(
			&r.LiquidationID, &r.Sequence, &r.Account, &r.Liquidator, &r.MarketID,
			&r.ExchangedBase, &r.ExchangedQuote, &r.Price, &r.Penalty,
			&r.ToInsuranceFund, &r.ToLiquidator, &r.BadDebt, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetJournalHistory returns journal entries touching an account, newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	account uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := escapeLike(fmt.Sprintf("user:%s:", account)) + "%"

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", argIdx)
	args = append(args, ClampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (qs *QueryService) GetInsuranceFund(ctx context.Context) (*InsuranceFundResponse, error) {
	var resp InsuranceFundResponse
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance, last_sequence FROM projections.insurance_fund WHERE id = 1
	`).Scan(&resp.Balance, &resp.AsOfSequence)
	if errors.Is(err, sql.ErrNoRows) {
		return &InsuranceFundResponse{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (qs *QueryService) GetMarketStatus(ctx context.Context, marketID string) (*MarketStatusResponse, error) {
	resp := MarketStatusResponse{MarketID: marketID}
	err := qs.db.QueryRowContext(ctx, `
		SELECT status, price, updated_at, last_sequence
		FROM projections.market_status WHERE market_id = $1
	`, marketID).Scan(&resp.Status, &resp.Price, &resp.UpdatedAt, &resp.AsOfSequence)
	if errors.Is(err, sql.ErrNoRows) {
		// No status change has been recorded; markets start open.
		return nil, fmt.Errorf("market %s: %w", marketID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity over the event log and that
// journal debits and credits cancel out per asset.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			rows.Close()
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Every journal moves the same amount from one account to another, so
	// the sum over all balances per asset must be zero.
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedAsset
		if err := balanceRows.Scan(&u.AssetID, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// Watermark is the last sequence applied to the projections.
func (qs *QueryService) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}
