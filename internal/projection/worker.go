package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"PerpClearing/internal/event"
	"PerpClearing/internal/observability"
	"PerpClearing/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence  int64
	EventType string
	Timestamp int64
	// Post-commit balances of the accounts the command touched.
	Balances  []BalanceEntry
	Positions []state.Position
	Records   []event.Record
}

type BalanceEntry struct {
	AccountPath string
	AssetID     uint16
	Balance     int64
}

// CacheInvalidator drops cached query results once a projection moves.
type CacheInvalidator interface {
	InvalidateAccounts(ctx context.Context, accounts []uuid.UUID) error
	InvalidateMarkets(ctx context.Context, markets []string) error
}

// ProjectionWorker updates projection tables from committed outputs.
// The projection channel drops when full; projections that fall behind are
// rebuilt from the event log.
type ProjectionWorker struct {
	db          *sql.DB
	inputChan   <-chan ProjectionOutput
	invalidator CacheInvalidator
	metrics     *observability.Metrics
	logger      zerolog.Logger
	lastSeq     int64
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan ProjectionOutput,
	invalidator CacheInvalidator,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:          db,
		inputChan:   inputChan,
		invalidator: invalidator,
		metrics:     metrics,
		logger:      logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				// Projections are eventually consistent and can be rebuilt.
				pw.logger.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
				continue
			}
			pw.lastSeq = output.Sequence
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("main").Observe(time.Since(start).Seconds())
				pw.metrics.ProjectionLastSeq.Set(float64(output.Sequence))
			}
			pw.invalidate(ctx, output)
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, b := range output.Balances {
		if err := upsertBalance(ctx, tx, b, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}
	for _, p := range output.Positions {
		if err := upsertPosition(ctx, tx, p, output.Sequence); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}
	for _, r := range output.Records {
		if err := applyRecord(ctx, tx, output.Sequence, r); err != nil {
			return fmt.Errorf("%s projection: %w", r.RecordType(), err)
		}
	}

	if err := setWatermark(ctx, tx, output.Sequence); err != nil {
		return err
	}
	return tx.Commit()
}

func (pw *ProjectionWorker) invalidate(ctx context.Context, output ProjectionOutput) {
	if pw.invalidator == nil {
		return
	}
	accounts, markets := Affected(output)
	if err := pw.invalidator.InvalidateAccounts(ctx, accounts); err != nil {
		pw.logger.Warn().Err(err).Msg("cache invalidation failed")
	}
	if err := pw.invalidator.InvalidateMarkets(ctx, markets); err != nil {
		pw.logger.Warn().Err(err).Msg("cache invalidation failed")
	}
}

// Affected lists the accounts and markets an output changed.
func Affected(output ProjectionOutput) ([]uuid.UUID, []string) {
	seenAccounts := make(map[uuid.UUID]bool)
	seenMarkets := make(map[string]bool)
	var accounts []uuid.UUID
	var markets []string

	addAccount := func(id uuid.UUID) {
		if id != uuid.Nil && !seenAccounts[id] {
			seenAccounts[id] = true
			accounts = append(accounts, id)
		}
	}
	addMarket := func(id string) {
		if id != "" && id != event.GlobalMarket && !seenMarkets[id] {
			seenMarkets[id] = true
			markets = append(markets, id)
		}
	}

	for _, p := range output.Positions {
		addAccount(p.Account)
		addMarket(p.MarketID)
	}
	for _, r := range output.Records {
		addMarket(r.Market())
		switch rec := r.(type) {
		case *event.CollateralDeposited:
			addAccount(rec.Account)
		case *event.CollateralWithdrawn:
			addAccount(rec.Account)
		case *event.LiquidityChanged:
			addAccount(rec.Account)
		case *event.FundingSettled:
			addAccount(rec.Account)
		case *event.PositionLiquidated:
			addAccount(rec.Account)
			addAccount(rec.Liquidator)
		}
	}
	return accounts, markets
}

func setWatermark(ctx context.Context, tx *sql.Tx, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}

// upsertBalance writes the absolute post-commit balance, so replaying an
// output twice is harmless.
func upsertBalance(ctx context.Context, tx *sql.Tx, b BalanceEntry, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = $3, last_sequence = $4
		WHERE projections.balances.last_sequence <= $4
	`, b.AccountPath, b.AssetID, b.Balance, seq)
	return err
}

func upsertPosition(ctx context.Context, tx *sql.Tx, p state.Position, seq int64) error {
	if p.Size == 0 && p.OpenNotional == 0 {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM projections.positions WHERE account_id = $1 AND market_id = $2
		`, p.Account, p.MarketID)
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions
			(account_id, market_id, size, open_notional, funding_checkpoint, version, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id, market_id) DO UPDATE SET
			size = $3, open_notional = $4, funding_checkpoint = $5, version = $6, last_sequence = $7
	`, p.Account, p.MarketID, p.Size, p.OpenNotional, p.FundingCheckpoint, p.Version, seq)
	return err
}

// RebuildProjections rebuilds all projection tables from the event log:
// balances from the journal, everything else from the stored records.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.funding_history`,
		`TRUNCATE projections.funding_rates`,
		`TRUNCATE projections.liquidation_history`,
		`TRUNCATE projections.insurance_fund`,
		`TRUNCATE projections.market_status`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Debits increase a balance, credits decrease it.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT account_path, asset_id, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, asset_id, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account, asset_id, -amount, sequence FROM event_log.journal
		) entries
		GROUP BY account_path, asset_id
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT sequence, record_type, payload FROM event_log.records ORDER BY sequence, idx
	`)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}
	type stored struct {
		seq    int64
		record event.Record
	}
	var records []stored
	for rows.Next() {
		var (
			seq        int64
			recordType string
			payload    []byte
		)
		if err := rows.Scan(&seq, &recordType, &payload); err != nil {
			rows.Close()
			return err
		}
		r, err := event.DecodeRecord(recordType, payload)
		if err != nil {
			rows.Close()
			return err
		}
		records = append(records, stored{seq: seq, record: r})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	var last int64
	for _, s := range records {
		if err := applyRecord(ctx, tx, s.seq, s.record); err != nil {
			return fmt.Errorf("replay %s at seq %d: %w", s.record.RecordType(), s.seq, err)
		}
		// Funding checkpoints are not carried by records; rebuilt rows
		// keep the last seen size and notional only.
		if pc, ok := s.record.(*event.PositionChanged); ok {
			if err := upsertPosition(ctx, tx, state.Position{
				Account:      pc.Account,
				MarketID:     pc.MarketID,
				Size:         pc.Size,
				OpenNotional: pc.OpenNotional,
			}, s.seq); err != nil {
				return err
			}
		}
		last = s.seq
	}
	if err := setWatermark(ctx, tx, last); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logger.Info().Int("records", len(records)).Int64("sequence", last).Msg("projection rebuild complete")
	return nil
}
