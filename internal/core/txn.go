package core

import (
	"fmt"
	"sort"

	"PerpClearing/internal/event"
	"PerpClearing/internal/ledger"
	"PerpClearing/internal/liquidity"
	"PerpClearing/internal/state"
	"PerpClearing/internal/vault"

	"github.com/google/uuid"
)

// txn stages one command. Reads go through the staged views so a handler
// sees its own writes; nothing reaches committed state until commit.
type txn struct {
	ref string
	now int64

	batch        *ledger.Batch
	gen          *ledger.JournalGenerator
	positions    *state.PositionTx
	pools        *liquidity.Tx
	liquidations *state.LiquidationTx
	vault        *vault.Vault

	records        []event.Record
	fundingMarkets []string
	// onCommit runs after the stores are committed. Market status lives
	// outside the transactional stores, so transitions are deferred here.
	onCommit []func()
}

func (c *ClearingEngine) begin(ref string, now int64) *txn {
	batch := ledger.NewBatch(ref, c.sequence, now)
	gen := ledger.NewJournalGenerator(batch)
	view := ledger.NewStagedView(c.balances, batch)
	positions := c.positions.Begin(gen)
	pools := c.pools.Begin()

	return &txn{
		ref:          ref,
		now:          now,
		batch:        batch,
		gen:          gen,
		positions:    positions,
		pools:        pools,
		liquidations: c.liquidations.Begin(),
		vault:        c.vault.Staged(view, gen, positions, pools),
	}
}

func (tx *txn) emit(r event.Record) {
	tx.records = append(tx.records, r)
}

func (c *ClearingEngine) market(id string) (*state.Market, error) {
	return c.markets.Get(id)
}

func checkDeadline(deadline, now int64) error {
	if deadline != 0 && now > deadline {
		return fmt.Errorf("%w: now %d > deadline %d", ErrDeadlineExpired, now, deadline)
	}
	return nil
}

// accrueFunding advances the market's funding growth once a period has
// passed. Paused and closed markets do not accrue.
func (c *ClearingEngine) accrueFunding(tx *txn, m *state.Market) error {
	if !m.IsOpen() {
		return nil
	}
	f := tx.positions.Funding(m.ID)
	if !f.IsDue(tx.now, m.FundingPeriod) {
		return nil
	}

	// The first accrual only starts the clock, no prices needed.
	var markTwap, indexTwap int64
	if f.LastSettlement != 0 {
		var err error
		if markTwap, err = c.pools.MarkTWAP(m.ID, m.FundingPeriod, tx.now); err != nil {
			return fmt.Errorf("mark twap %s: %w", m.ID, err)
		}
		if indexTwap, err = c.prices.TWAP(m.ID, m.FundingPeriod, tx.now); err != nil {
			return fmt.Errorf("index twap %s: %w: %v", m.ID, vault.ErrNoIndexPrice, err)
		}
	}

	delta := tx.positions.AccrueFunding(m, tx.now, markTwap, indexTwap)
	tx.fundingMarkets = append(tx.fundingMarkets, m.ID)
	if f.LastSettlement != 0 {
		tx.emit(&event.FundingGrowthUpdated{
			MarketID:  m.ID,
			MarkTWAP:  markTwap,
			IndexTWAP: indexTwap,
			Delta:     delta,
			Growth:    tx.positions.Funding(m.ID).Growth,
			Timestamp: tx.now,
		})
	}
	return nil
}

// settleFunding accrues the market if due and settles the account's pending
// funding against the vault: its taker position and the impermanent
// position of its maker ranges.
func (c *ClearingEngine) settleFunding(tx *txn, m *state.Market, account uuid.UUID) error {
	if err := c.accrueFunding(tx, m); err != nil {
		return err
	}
	growth := tx.positions.Funding(m.ID).Growth
	payment := tx.positions.SettleFunding(account, m.ID)

	makerPayment, err := tx.pools.SettleFunding(account, m.ID, growth)
	if err != nil {
		return fmt.Errorf("maker funding %s: %w", m.ID, err)
	}
	if makerPayment != 0 {
		tx.gen.FundingPayment(account, makerPayment)
		payment += makerPayment
	}

	if payment != 0 {
		tx.emit(&event.FundingSettled{
			Account:   account,
			MarketID:  m.ID,
			Payment:   payment,
			Growth:    growth,
			Timestamp: tx.now,
		})
	}
	return nil
}

// settleAccountFunding settles funding in every market the account has a
// taker position or maker liquidity in.
func (c *ClearingEngine) settleAccountFunding(tx *txn, account uuid.UUID) error {
	var ids []string
	for _, pos := range tx.positions.AccountPositions(account) {
		ids = append(ids, pos.MarketID)
	}
	ids = append(ids, tx.pools.MakerMarkets(account)...)
	sort.Strings(ids)

	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		m, err := c.market(id)
		if err != nil {
			return err
		}
		if err := c.settleFunding(tx, m, account); err != nil {
			return err
		}
	}
	return nil
}
