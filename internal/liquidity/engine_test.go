package liquidity_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpClearing/internal/liquidity"
	fpmath "PerpClearing/internal/math"
	"PerpClearing/internal/state"
)

func newEngine(t *testing.T) (*state.Market, *liquidity.Engine) {
	t.Helper()
	m := state.NewMarket(market, "ETH", 100*fpmath.PriceScale)
	e := liquidity.NewEngine()
	require.NoError(t, e.CreatePool(m))
	return m, e
}

func addParams() liquidity.AddLiquidityParams {
	return liquidity.AddLiquidityParams{TickLower: 45000, TickUpper: 47000, BaseMax: 10 * unit, QuoteMax: 1_000 * unit}
}

func TestTx_StagesUntilCommit(t *testing.T) {
	m, e := newEngine(t)
	maker := uuid.New()

	tx := e.Begin()
	res, err := tx.AddLiquidity(m, maker, addParams(), 100)
	require.NoError(t, err)

	committed, _ := e.Pool(market)
	assert.Zero(t, committed.Liquidity)
	staged, _ := tx.Pool(market)
	assert.Equal(t, res.Liquidity, staged.Liquidity)
	assert.Equal(t, []string{market}, tx.Touched())

	require.NoError(t, tx.Commit(100))
	committed, _ = e.Pool(market)
	assert.Equal(t, res.Liquidity, committed.Liquidity)

	twap, err := e.MarkTWAP(market, 900, 200)
	require.NoError(t, err)
	assert.Equal(t, committed.Price(), twap)
}

func TestTx_DeadlineAndSlippage(t *testing.T) {
	m, e := newEngine(t)
	maker := uuid.New()

	params := addParams()
	params.Deadline = 99
	_, err := e.Begin().AddLiquidity(m, maker, params, 100)
	assert.ErrorIs(t, err, state.ErrDeadlineExpired)

	params = addParams()
	params.MinBase = 11 * unit
	_, err = e.Begin().AddLiquidity(m, maker, params, 100)
	assert.ErrorIs(t, err, state.ErrSlippageExceeded)
}

func TestTx_ClosedMarketRejectsSwapAndAddButAllowsRemove(t *testing.T) {
	m, e := newEngine(t)
	maker := uuid.New()

	tx := e.Begin()
	res, err := tx.AddLiquidity(m, maker, addParams(), 1)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(1))

	require.NoError(t, m.Pause(2, 100*fpmath.PriceScale))

	tx = e.Begin()
	_, err = tx.Swap(m, liquidity.SwapParams{IsBaseToQuote: true, ExactInput: true, Amount: unit})
	assert.ErrorIs(t, err, state.ErrMarketNotOpen)
	_, err = tx.AddLiquidity(m, maker, addParams(), 3)
	assert.ErrorIs(t, err, state.ErrMarketNotOpen)

	removed, err := tx.RemoveLiquidity(m, maker, liquidity.RemoveLiquidityParams{
		TickLower: 45000, TickUpper: 47000, Liquidity: res.Liquidity,
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, res.Base, removed.Base)
}

func TestEngine_SnapshotRestore(t *testing.T) {
	m, e := newEngine(t)
	maker := uuid.New()

	tx := e.Begin()
	_, err := tx.AddLiquidity(m, maker, addParams(), 10)
	require.NoError(t, err)
	_, err = tx.Swap(m, liquidity.SwapParams{IsBaseToQuote: false, ExactInput: true, Amount: 5 * unit})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(10))

	_, restored := newEngine(t)
	require.NoError(t, restored.Restore(e.Snapshot()))

	want, _ := e.Pool(market)
	got, _ := restored.Pool(market)
	assert.Equal(t, want.SqrtPrice, got.SqrtPrice)
	assert.Equal(t, want.FeeGrowthGlobalQuote, got.FeeGrowthGlobalQuote)
	assert.Equal(t, want.Ticks(), got.Ticks())
	assert.Equal(t, want.Makers(), got.Makers())

	wantExp, _ := e.Exposure(maker, market)
	gotExp, _ := restored.Exposure(maker, market)
	assert.Equal(t, wantExp, gotExp)
}

func TestTx_SettleFundingChargesImpermanentPosition(t *testing.T) {
	m, e := newEngine(t)
	maker := uuid.New()
	const seed = 7 * fpmath.PriceScale

	tx := e.Begin()
	params := addParams()
	params.FundingGrowth = seed
	_, err := tx.AddLiquidity(m, maker, params, 1)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(1))

	// A taker buys base, leaving the maker short.
	tx = e.Begin()
	_, err = tx.Swap(m, liquidity.SwapParams{ExactInput: true, Amount: 200 * unit})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(2))

	exp, err := e.Exposure(maker, market)
	require.NoError(t, err)
	require.Negative(t, exp.Size)

	growth := seed + fpmath.PriceScale
	pending := exp.PendingFunding(growth)
	assert.Negative(t, pending, "a short maker receives positive funding")
	assert.Equal(t, fpmath.ComputeFundingPayment(exp.Size, growth, seed), pending)

	tx = e.Begin()
	assert.Equal(t, []string{market}, tx.MakerMarkets(maker))
	paid, err := tx.SettleFunding(maker, market, growth)
	require.NoError(t, err)
	assert.Equal(t, pending, paid)
	require.NoError(t, tx.Commit(3))

	tx = e.Begin()
	paid, err = tx.SettleFunding(maker, market, growth)
	require.NoError(t, err)
	assert.Zero(t, paid)
	assert.Empty(t, tx.Touched(), "nothing to settle stages nothing")

	exp, err = e.Exposure(maker, market)
	require.NoError(t, err)
	assert.Zero(t, exp.PendingFunding(growth))
}
