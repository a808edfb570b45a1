package state_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpClearing/internal/ledger"
	"PerpClearing/internal/state"
)

const eth = "ETH-USD"

func begin(pl *state.PositionLedger) (*state.PositionTx, *ledger.Batch) {
	batch := ledger.NewBatch("test", 1, 1_700_000_000)
	return pl.Begin(ledger.NewJournalGenerator(batch)), batch
}

func TestUpdatePosition_IncreaseRealizesNothing(t *testing.T) {
	pl := state.NewPositionLedger()
	alice := uuid.New()
	tx, batch := begin(pl)

	assert.Zero(t, tx.UpdatePosition(alice, eth, 10_000_000, -1_000_000_000))
	assert.Zero(t, tx.UpdatePosition(alice, eth, 5_000_000, -600_000_000))
	tx.Commit()

	pos := pl.Position(alice, eth)
	assert.Equal(t, int64(15_000_000), pos.Size)
	assert.Equal(t, int64(-1_600_000_000), pos.OpenNotional)
	assert.True(t, batch.IsEmpty())
}

func TestUpdatePosition_Reduce(t *testing.T) {
	pl := state.NewPositionLedger()
	alice := uuid.New()
	tx, batch := begin(pl)

	// long 10 @ 100, sell 4 @ 120
	tx.UpdatePosition(alice, eth, 10_000_000, -1_000_000_000)
	realized := tx.UpdatePosition(alice, eth, -4_000_000, 480_000_000)

	assert.Equal(t, int64(80_000_000), realized)
	pos := tx.Position(alice, eth)
	assert.Equal(t, int64(6_000_000), pos.Size)
	assert.Equal(t, int64(-600_000_000), pos.OpenNotional)
	assert.Equal(t, int64(80_000_000), batch.Delta(ledger.UserCollateral(alice, ledger.AssetUSDC)))
}

func TestUpdatePosition_Close(t *testing.T) {
	pl := state.NewPositionLedger()
	alice := uuid.New()
	tx, _ := begin(pl)

	// short 2 @ 150, buy back @ 160
	tx.UpdatePosition(alice, eth, -2_000_000, 300_000_000)
	realized := tx.UpdatePosition(alice, eth, 2_000_000, -320_000_000)

	assert.Equal(t, int64(-20_000_000), realized)
	tx.Commit()
	assert.Empty(t, pl.AccountPositions(alice))
}

func TestUpdatePosition_Flip(t *testing.T) {
	pl := state.NewPositionLedger()
	alice := uuid.New()
	tx, _ := begin(pl)

	// long 1 @ 100, sell 3 @ 110
	tx.UpdatePosition(alice, eth, 1_000_000, -100_000_000)
	realized := tx.UpdatePosition(alice, eth, -3_000_000, 330_000_000)

	assert.Equal(t, int64(10_000_000), realized)
	pos := tx.Position(alice, eth)
	assert.Equal(t, int64(-2_000_000), pos.Size)
	assert.Equal(t, int64(220_000_000), pos.OpenNotional)
	assert.Equal(t, int64(110_000_000), pos.EntryPrice())
}

func TestPositionTx_DiscardLeavesLedgerUntouched(t *testing.T) {
	pl := state.NewPositionLedger()
	alice := uuid.New()

	tx, _ := begin(pl)
	tx.UpdatePosition(alice, eth, 1_000_000, -100_000_000)
	tx.Commit()

	discarded, _ := begin(pl)
	discarded.UpdatePosition(alice, eth, -1_000_000, 90_000_000)
	assert.True(t, discarded.Position(alice, eth).IsFlat())

	pos := pl.Position(alice, eth)
	assert.Equal(t, int64(1_000_000), pos.Size)
	assert.Equal(t, int64(1), pos.Version)
}

func TestFunding_AccrueAndSettle(t *testing.T) {
	pl := state.NewPositionLedger()
	m := state.NewMarket(eth, "ETH", 100_000_000)
	long, short := uuid.New(), uuid.New()

	tx, _ := begin(pl)
	require.True(t, tx.Funding(eth).IsDue(1_000, m.FundingPeriod))
	assert.Zero(t, tx.AccrueFunding(m, 1_000, 101_000_000, 100_000_000), "first accrual only starts the clock")
	tx.UpdatePosition(long, eth, 2_000_000, -200_000_000)
	tx.UpdatePosition(short, eth, -2_000_000, 200_000_000)
	tx.Commit()

	tx, batch := begin(pl)
	assert.False(t, tx.Funding(eth).IsDue(1_000+m.FundingPeriod-1, m.FundingPeriod))
	delta := tx.AccrueFunding(m, 1_000+m.FundingPeriod, 101_000_000, 100_000_000)
	assert.Equal(t, int64(1_000_000), delta)

	assert.Equal(t, int64(2_000_000), tx.SettleFunding(long, eth))
	assert.Equal(t, int64(-2_000_000), tx.SettleFunding(short, eth))
	assert.Zero(t, tx.SettleFunding(long, eth), "second settle is a no-op")

	assert.Equal(t, int64(-2_000_000), batch.Delta(ledger.UserCollateral(long, ledger.AssetUSDC)))
	assert.Equal(t, int64(2_000_000), batch.Delta(ledger.UserCollateral(short, ledger.AssetUSDC)))
	tx.Commit()

	assert.Equal(t, int64(1_000_000), pl.Position(long, eth).FundingCheckpoint)
	assert.Equal(t, int64(1_000+m.FundingPeriod), pl.Funding(eth).LastSettlement)
}

func TestPositionLedger_SnapshotRestore(t *testing.T) {
	pl := state.NewPositionLedger()
	alice := uuid.New()
	tx, _ := begin(pl)
	tx.UpdatePosition(alice, eth, 1_000_000, -100_000_000)
	tx.AccrueFunding(state.NewMarket(eth, "ETH", 1), 5, 0, 0)
	tx.Commit()

	restored := state.NewPositionLedger()
	restored.Restore(pl.Snapshot())

	assert.Equal(t, pl.Position(alice, eth), restored.Position(alice, eth))
	assert.Equal(t, pl.Funding(eth), restored.Funding(eth))
}
