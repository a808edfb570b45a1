package state_test

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"PerpClearing/internal/ledger"
	"PerpClearing/internal/state"
)

func exposure(size, price int64) state.Exposure {
	return state.Exposure{MarketID: eth, Size: size, IndexPrice: price, Risk: state.DefaultRiskParams}
}

func TestAccountMargin_NoNotionalIsNeutral(t *testing.T) {
	am := state.AccountMargin{CollateralValue: 10_000_000, AccountValue: 10_000_000}

	assert.Equal(t, int64(math.MaxInt64), am.MarginRatio())
	assert.False(t, am.IsLiquidatable())
	assert.Equal(t, int64(10_000_000), am.FreeCollateral())
	assert.Equal(t, state.MarginStatusHealthy, am.Status())
}

func TestAccountMargin_Requirements(t *testing.T) {
	// 1 ETH long at 100, 20 of value
	am := state.AccountMargin{
		CollateralValue: 20_000_000,
		AccountValue:    20_000_000,
		Exposures:       []state.Exposure{exposure(1_000_000, 100_000_000)},
	}

	assert.Equal(t, int64(100_000_000), am.TotalNotional())
	assert.Equal(t, int64(10_000_000), am.InitialRequirement())
	assert.Equal(t, int64(6_250_000), am.MaintenanceRequirement())
	assert.Equal(t, int64(200_000), am.MarginRatio())
	assert.Equal(t, int64(10_000_000), am.FreeCollateral())
	assert.True(t, am.MeetsInitialMargin())

	am.AccountValue = 6_000_000
	assert.True(t, am.IsLiquidatable())
	assert.Equal(t, state.MarginStatusLiquidatable, am.Status())

	am.AccountValue = 8_000_000
	assert.Equal(t, state.MarginStatusAtRisk, am.Status())
}

func TestAccountMargin_MakerDebtDrivesInitialRequirement(t *testing.T) {
	e := exposure(0, 100_000_000)
	e.OrderDebtValue = 50_000_000
	am := state.AccountMargin{CollateralValue: 4_000_000, AccountValue: 4_000_000, Exposures: []state.Exposure{e}}

	assert.Equal(t, int64(5_000_000), am.InitialRequirement())
	assert.False(t, am.MeetsInitialMargin())
	assert.False(t, am.IsLiquidatable(), "resting liquidity alone is never liquidatable")
}

func TestAccountMargin_RatioMonotonicInSize(t *testing.T) {
	prev := int64(math.MaxInt64)
	for size := int64(1_000_000); size <= 10_000_000; size += 1_000_000 {
		am := state.AccountMargin{
			CollateralValue: 50_000_000,
			AccountValue:    50_000_000,
			Exposures:       []state.Exposure{exposure(size, 100_000_000)},
		}
		ratio := am.MarginRatio()
		assert.LessOrEqual(t, ratio, prev)
		prev = ratio
	}
}

func TestSplitPenalty(t *testing.T) {
	toFund, toLiquidator := state.SplitPenalty(2_250_001, 500_000)
	assert.Equal(t, int64(1_125_001), toFund)
	assert.Equal(t, int64(1_125_000), toLiquidator)

	toFund, toLiquidator = state.SplitPenalty(100, 1_000_000)
	assert.Equal(t, int64(100), toFund)
	assert.Zero(t, toLiquidator)
}

func TestInsuranceFund_MayGoNegative(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	batch := ledger.NewBatch("fund", 1, 0)
	gen := ledger.NewJournalGenerator(batch)
	alice, bob := uuid.New(), uuid.New()

	fund := state.NewInsuranceFund(bt).Staged(ledger.NewStagedView(bt, batch), gen)
	fund.Receive(alice, bob, 300, 200)
	fund.PayOut(alice, 1_000)

	assert.Equal(t, int64(-700), fund.Balance())
	assert.Equal(t, int64(700), fund.Deficit())
	assert.Equal(t, int64(200), batch.Delta(ledger.UserCollateral(bob, ledger.AssetUSDC)))
	assert.Equal(t, int64(500), batch.Delta(ledger.UserCollateral(alice, ledger.AssetUSDC)))
}

func TestLiquidationBook_BadDebtOncePerLiquidation(t *testing.T) {
	book := state.NewLiquidationBook()
	id := uuid.New()
	ev := state.BadDebtEvent{LiquidationID: id, Account: uuid.New(), MarketID: eth, Amount: 42}

	tx := book.Begin()
	tx.AddRecord(state.LiquidationRecord{LiquidationID: id, Outcome: state.LiquidationOutcomeDeficit})
	assert.True(t, tx.AddBadDebt(ev))
	assert.False(t, tx.AddBadDebt(ev))
	tx.MarkOutcome(id, state.LiquidationOutcomeBadDebtSettled)
	tx.Commit()

	assert.True(t, book.IsSettled(id))
	assert.False(t, book.Begin().AddBadDebt(ev))
	assert.Equal(t, int64(42), book.TotalBadDebt())

	rec, ok := book.Record(id)
	assert.True(t, ok)
	assert.Equal(t, state.LiquidationOutcomeBadDebtSettled, rec.Outcome)

	restored := state.NewLiquidationBook()
	restored.Restore(book.Snapshot())
	assert.True(t, restored.IsSettled(id))
}

func TestLiquidationBook_SnapshotIsOrdered(t *testing.T) {
	book := state.NewLiquidationBook()
	tx := book.Begin()
	for i := 0; i < 32; i++ {
		tx.AddRecord(state.LiquidationRecord{LiquidationID: uuid.New(), MarketID: eth, Timestamp: int64(100 - i%4)})
	}
	tx.Commit()

	first := book.Snapshot()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, book.Snapshot())
	}
	for i := 1; i < len(first.Records); i++ {
		assert.LessOrEqual(t, first.Records[i-1].Timestamp, first.Records[i].Timestamp)
	}

	restored := state.NewLiquidationBook()
	restored.Restore(first)
	assert.Equal(t, first, restored.Snapshot())
}
