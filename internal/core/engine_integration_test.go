package core_test

import (
	"errors"
	"testing"

	"PerpClearing/internal/core"
	"PerpClearing/internal/event"
	"PerpClearing/internal/ingestion"
	"PerpClearing/internal/ledger"
	fpmath "PerpClearing/internal/math"
	"PerpClearing/internal/state"

	"github.com/google/uuid"
)

// --- Test helpers ---

const (
	testMarket = "ETH-USD"
	testNow    = int64(1_700_000_000)
	unit       = fpmath.AmountScale
)

var owner = uuid.MustParse("00000000-0000-0000-0000-00000000a11c")

type harness struct {
	t       *testing.T
	engine  *core.ClearingEngine
	persist chan core.CoreOutput
	// priceSeq is the next index price sequence.
	priceSeq int64
}

// newHarness builds an engine over a single ETH-USD market priced at 100.
func newHarness(t *testing.T) *harness {
	t.Helper()
	return newMarketsHarness(t, freshMarket())
}

func newMarketsHarness(t *testing.T, markets ...*state.Market) *harness {
	t.Helper()
	persist := make(chan core.CoreOutput, 1024)
	engine, err := core.NewClearingEngine(core.Config{
		Owner:   owner,
		Markets: markets,
	}, persist, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewClearingEngine: %v", err)
	}
	h := &harness{t: t, engine: engine, persist: persist}
	h.setIndex(100)
	return h
}

// freshMarket prices the index instantaneously so tests can move it in one step.
func freshMarket() *state.Market {
	m := state.NewMarket(testMarket, "ETH", 100*fpmath.PriceScale)
	m.TwapInterval = 0
	return m
}

func (h *harness) header(marketID *string) event.Header {
	return h.headerAt(marketID, testNow)
}

func (h *harness) headerAt(marketID *string, ts int64) event.Header {
	return event.Header{
		CommandID: uuid.New(),
		Sequence:  h.engine.NextSourceSequence(marketID),
		Timestamp: ts,
	}
}

func market() *string {
	id := testMarket
	return &id
}

func (h *harness) must(cmd event.Event) {
	h.t.Helper()
	if err := h.engine.ProcessCommand(cmd); err != nil {
		h.t.Fatalf("%s: %v", cmd.EventType(), err)
	}
}

func (h *harness) setIndex(price int64) {
	h.t.Helper()
	h.must(&event.IndexPriceUpdate{
		Market:         testMarket,
		Price:          price * fpmath.PriceScale,
		PriceSequence:  h.priceSeq,
		PriceTimestamp: testNow,
	})
	h.priceSeq++
}

func (h *harness) deposit(account uuid.UUID, amount int64) {
	h.t.Helper()
	h.must(&event.Deposit{Header: h.header(nil), Account: account, Asset: "USDC", Amount: amount})
}

// addMaker puts 100k USDC of depth around price 100 (ticks 45000..47000).
func (h *harness) addMaker() uuid.UUID {
	h.t.Helper()
	return h.addMakerIn(testMarket)
}

func (h *harness) addMakerIn(marketID string) uuid.UUID {
	h.t.Helper()
	maker := uuid.New()
	h.deposit(maker, 1_000_000*unit)
	h.must(&event.AddLiquidity{
		Header:    h.header(&marketID),
		Account:   maker,
		Market:    marketID,
		TickLower: 45000,
		TickUpper: 47000,
		BaseMax:   1_000 * unit,
		QuoteMax:  100_000 * unit,
	})
	return maker
}

// openLong buys base with an exact quote input.
func (h *harness) openLong(account uuid.UUID, quote int64) error {
	return h.engine.ProcessCommand(&event.OpenPosition{
		Header:     h.header(market()),
		Account:    account,
		Market:     testMarket,
		ExactInput: true,
		Amount:     quote,
	})
}

// openShortIn sells an exact base amount.
func (h *harness) openShortIn(account uuid.UUID, marketID string, base int64) error {
	return h.engine.ProcessCommand(&event.OpenPosition{
		Header:        h.header(&marketID),
		Account:       account,
		Market:        marketID,
		IsBaseToQuote: true,
		ExactInput:    true,
		Amount:        base,
	})
}

func (h *harness) liquidate(liquidator, account uuid.UUID, marketID string) []core.CoreOutput {
	h.t.Helper()
	drainOutputs(h.persist)
	h.must(&event.Liquidate{Header: h.header(&marketID), Liquidator: liquidator, Account: account, Market: marketID})
	return drainOutputs(h.persist)
}

func (h *harness) settleFunding(account uuid.UUID, ts int64) *event.FundingSettled {
	h.t.Helper()
	drainOutputs(h.persist)
	h.must(&event.SettleFunding{Header: h.headerAt(market(), ts), Account: account, Market: testMarket})
	rec, ok := findRecord[*event.FundingSettled](drainOutputs(h.persist))
	if !ok {
		h.t.Fatalf("expected a FundingSettled record for %s", account)
	}
	return rec
}

func (h *harness) balance(account uuid.UUID) int64 {
	h.t.Helper()
	view, err := h.engine.Account(account)
	if err != nil {
		h.t.Fatalf("Account: %v", err)
	}
	return view.Balances[ledger.AssetUSDC]
}

func (h *harness) position(account uuid.UUID) state.Position {
	h.t.Helper()
	return h.positionIn(account, testMarket)
}

func (h *harness) positionIn(account uuid.UUID, marketID string) state.Position {
	h.t.Helper()
	view, err := h.engine.Account(account)
	if err != nil {
		h.t.Fatalf("Account: %v", err)
	}
	for _, p := range view.Positions {
		if p.MarketID == marketID {
			return p
		}
	}
	return state.Position{}
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

func findRecord[T event.Record](outputs []core.CoreOutput) (T, bool) {
	for _, o := range outputs {
		for _, r := range o.Records {
			if typed, ok := r.(T); ok {
				return typed, true
			}
		}
	}
	var zero T
	return zero, false
}

// ============================================================================
// Test: Collateral
// ============================================================================

func TestDeposit_CreditsCollateral(t *testing.T) {
	h := newHarness(t)
	drainOutputs(h.persist)
	alice := uuid.New()

	h.deposit(alice, 1_000*unit)

	outputs := drainOutputs(h.persist)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	batch := outputs[0].Batch
	if batch == nil || len(batch.Journals) != 1 {
		t.Fatalf("expected a single journal, got %+v", batch)
	}
	j := batch.Journals[0]
	if j.JournalType != ledger.JournalTypeDeposit || j.Amount != 1_000*unit {
		t.Errorf("journal: got type %s amount %d", j.JournalType, j.Amount)
	}
	if got := j.DebitAccount.AccountPath(); got != "user:"+alice.String()+":collateral:USDC" {
		t.Errorf("debit account: got %s", got)
	}
	rec, ok := findRecord[*event.CollateralDeposited](outputs)
	if !ok || rec.Balance != 1_000*unit {
		t.Errorf("CollateralDeposited: got %+v", rec)
	}
	if h.balance(alice) != 1_000*unit {
		t.Errorf("balance: got %d", h.balance(alice))
	}
}

func TestDepositWithdraw_RoundTrip(t *testing.T) {
	h := newHarness(t)
	alice := uuid.New()

	h.deposit(alice, 100*unit)
	h.must(&event.Withdraw{Header: h.header(nil), Account: alice, Asset: "USDC", Amount: 40 * unit})

	err := h.engine.ProcessCommand(&event.Withdraw{Header: h.header(nil), Account: alice, Asset: "USDC", Amount: 61 * unit})
	if !errors.Is(err, core.ErrInsufficientFreeCollateral) {
		t.Fatalf("expected ErrInsufficientFreeCollateral, got %v", err)
	}
	if got := h.balance(alice); got != 60*unit {
		t.Errorf("balance after rejected withdraw: got %d, want %d", got, 60*unit)
	}

	err = h.engine.ProcessCommand(&event.Deposit{Header: h.header(nil), Account: alice, Asset: "DOGE", Amount: unit})
	if !errors.Is(err, core.ErrInvalidAsset) {
		t.Errorf("expected ErrInvalidAsset, got %v", err)
	}
}

func TestInsuranceFundTopUp(t *testing.T) {
	h := newHarness(t)
	h.must(&event.InsuranceFundTopUp{Header: h.header(nil), Caller: uuid.New(), Amount: 500 * unit})

	if got := h.engine.InsuranceFund().Balance; got != 500*unit {
		t.Errorf("insurance fund: got %d, want %d", got, 500*unit)
	}
}

// ============================================================================
// Test: Trading
// ============================================================================

func TestOpenClose_CostsOnlyFees(t *testing.T) {
	h := newHarness(t)
	h.addMaker()
	taker := uuid.New()
	h.deposit(taker, 300*unit)

	if err := h.openLong(taker, 2_000*unit); err != nil {
		t.Fatalf("open: %v", err)
	}
	pos := h.position(taker)
	if pos.Size <= 0 {
		t.Fatalf("expected a long position, got %+v", pos)
	}

	h.must(&event.ClosePosition{Header: h.header(market()), Account: taker, Market: testMarket})
	if pos := h.position(taker); !pos.IsFlat() {
		t.Fatalf("expected flat position, got %+v", pos)
	}

	// Two 1% fees on roughly 2000 of notional, and nothing else.
	loss := 300*unit - h.balance(taker)
	if loss <= 0 || loss > 40*unit {
		t.Errorf("round trip loss: got %d, want (0, %d]", loss, 40*unit)
	}
}

func TestOpen_RejectedBelowInitialMargin(t *testing.T) {
	h := newHarness(t)
	h.addMaker()
	taker := uuid.New()
	h.deposit(taker, 100*unit)
	drainOutputs(h.persist)
	seqBefore := h.engine.GetSequence()
	hashBefore := h.engine.GetStateHash()
	before, err := h.engine.Market(testMarket)
	if err != nil {
		t.Fatalf("Market: %v", err)
	}

	err = h.openLong(taker, 2_000*unit)
	if !errors.Is(err, core.ErrInsufficientMargin) {
		t.Fatalf("expected ErrInsufficientMargin, got %v", err)
	}

	if h.engine.GetSequence() != seqBefore || h.engine.GetStateHash() != hashBefore {
		t.Error("rejected command must not advance the engine")
	}
	outputs := drainOutputs(h.persist)
	if len(outputs) != 1 || outputs[0].Rejection == nil || outputs[0].Envelope != nil {
		t.Fatalf("expected a single rejection marker, got %+v", outputs)
	}
	if r := outputs[0].Rejection; r.Partition != "market:"+testMarket || r.Reason != "insufficient_margin" {
		t.Errorf("rejection: got %+v", r)
	}
	if !h.position(taker).IsFlat() || h.balance(taker) != 100*unit {
		t.Error("rejected command must leave the account untouched")
	}
	view, err := h.engine.Market(testMarket)
	if err != nil {
		t.Fatalf("Market: %v", err)
	}
	if view.MarkPrice != before.MarkPrice {
		t.Errorf("pool moved on a rejected trade: mark %d -> %d", before.MarkPrice, view.MarkPrice)
	}
}

func TestFunding_MakerReceivesWhatTakerPays(t *testing.T) {
	h := newHarness(t)
	maker := h.addMaker()
	taker := uuid.New()
	h.deposit(taker, 300*unit)
	if err := h.openLong(taker, 2_000*unit); err != nil {
		t.Fatalf("open: %v", err)
	}

	// The long pushed the mark above the index of 100.
	later := testNow + state.DefaultFundingPeriod
	paid := h.settleFunding(taker, later)
	received := h.settleFunding(maker, later)

	if paid.Payment <= 0 {
		t.Fatalf("long pays when mark > index, got %d", paid.Payment)
	}
	if received.Payment >= 0 {
		t.Fatalf("the maker's impermanent short must receive funding, got %d", received.Payment)
	}
	if d := paid.Payment + received.Payment; d < 0 || d > 10 {
		t.Errorf("funding is a transfer: taker paid %d, maker received %d", paid.Payment, -received.Payment)
	}
	if got, want := h.balance(maker), 1_000_000*unit-received.Payment; got != want {
		t.Errorf("maker balance: got %d, want %d", got, want)
	}

	// Settled ranges owe nothing more until the next period.
	drainOutputs(h.persist)
	h.must(&event.SettleFunding{Header: h.headerAt(market(), later), Account: maker, Market: testMarket})
	if rec, ok := findRecord[*event.FundingSettled](drainOutputs(h.persist)); ok {
		t.Errorf("second settle in the same period paid %d", rec.Payment)
	}
}

func TestWithdraw_BlockedByOpenPosition(t *testing.T) {
	h := newHarness(t)
	h.addMaker()
	taker := uuid.New()
	h.deposit(taker, 300*unit)
	if err := h.openLong(taker, 2_000*unit); err != nil {
		t.Fatalf("open: %v", err)
	}

	err := h.engine.ProcessCommand(&event.Withdraw{Header: h.header(nil), Account: taker, Asset: "USDC", Amount: 200 * unit})
	if !errors.Is(err, core.ErrInsufficientFreeCollateral) {
		t.Fatalf("expected ErrInsufficientFreeCollateral, got %v", err)
	}
	h.must(&event.Withdraw{Header: h.header(nil), Account: taker, Asset: "USDC", Amount: 50 * unit})
}

// ============================================================================
// Test: Liquidation
// ============================================================================

func TestLiquidate_OnlyBelowMaintenance(t *testing.T) {
	h := newHarness(t)
	h.addMaker()
	taker, keeper := uuid.New(), uuid.New()
	h.deposit(taker, 300*unit)
	if err := h.openLong(taker, 2_000*unit); err != nil {
		t.Fatalf("open: %v", err)
	}

	// At 95 the account is still above maintenance.
	h.setIndex(95)
	err := h.engine.ProcessCommand(&event.Liquidate{Header: h.header(market()), Liquidator: keeper, Account: taker, Market: testMarket})
	if !errors.Is(err, core.ErrAccountHealthy) {
		t.Fatalf("expected ErrAccountHealthy, got %v", err)
	}

	err = h.engine.ProcessCommand(&event.Liquidate{Header: h.header(market()), Liquidator: taker, Account: taker, Market: testMarket})
	if !errors.Is(err, core.ErrSelfLiquidation) {
		t.Fatalf("expected ErrSelfLiquidation, got %v", err)
	}

	h.setIndex(88)
	drainOutputs(h.persist)
	h.must(&event.Liquidate{Header: h.header(market()), Liquidator: keeper, Account: taker, Market: testMarket})

	outputs := drainOutputs(h.persist)
	rec, ok := findRecord[*event.PositionLiquidated](outputs)
	if !ok {
		t.Fatal("expected a PositionLiquidated record")
	}
	if rec.Penalty <= 0 || rec.ToInsuranceFund+rec.ToLiquidator != rec.Penalty {
		t.Errorf("penalty split: %d = %d + %d", rec.Penalty, rec.ToInsuranceFund, rec.ToLiquidator)
	}
	if _, ok := findRecord[*event.BadDebtSettled](outputs); ok {
		t.Error("account stayed solvent, no bad debt expected")
	}
	if !h.position(taker).IsFlat() {
		t.Error("liquidated position must be flat")
	}
	if got := h.balance(keeper); got != rec.ToLiquidator {
		t.Errorf("liquidator reward: got %d, want %d", got, rec.ToLiquidator)
	}
	if got := h.engine.InsuranceFund().Balance; got != rec.ToInsuranceFund {
		t.Errorf("insurance fund: got %d, want %d", got, rec.ToInsuranceFund)
	}
}

func TestLiquidate_ClosedMarketSettlesBadDebt(t *testing.T) {
	h := newHarness(t)
	h.addMaker()
	taker, keeper := uuid.New(), uuid.New()
	h.must(&event.InsuranceFundTopUp{Header: h.header(nil), Caller: owner, Amount: 1_000 * unit})
	h.deposit(taker, 300*unit)
	if err := h.openLong(taker, 2_000*unit); err != nil {
		t.Fatalf("open: %v", err)
	}

	h.must(&event.PauseMarket{Header: h.header(market()), Caller: owner, Market: testMarket})
	h.must(&event.CloseMarket{Header: h.header(market()), Caller: owner, Market: testMarket, Price: 80 * fpmath.PriceScale})
	fundBefore := h.engine.InsuranceFund().Balance
	drainOutputs(h.persist)

	h.must(&event.Liquidate{Header: h.header(market()), Liquidator: keeper, Account: taker, Market: testMarket})

	outputs := drainOutputs(h.persist)
	liq, ok := findRecord[*event.PositionLiquidated](outputs)
	if !ok {
		t.Fatal("expected a PositionLiquidated record")
	}
	if d := liq.Price - 80*fpmath.PriceScale; d < -1 || d > 1 {
		t.Errorf("closed market fills at the close price, got %d", liq.Price)
	}
	bad, ok := findRecord[*event.BadDebtSettled](outputs)
	if !ok || bad.Amount <= 0 {
		t.Fatalf("expected bad debt, got %+v", bad)
	}

	if got := h.balance(taker); got != 0 {
		t.Errorf("account value after bad debt: got %d, want 0", got)
	}
	fund := h.engine.InsuranceFund()
	if want := fundBefore + liq.ToInsuranceFund - bad.Amount; fund.Balance != want {
		t.Errorf("insurance fund: got %d, want %d", fund.Balance, want)
	}
	if fund.TotalBadDebt != bad.Amount {
		t.Errorf("total bad debt: got %d, want %d", fund.TotalBadDebt, bad.Amount)
	}
}

func TestLiquidate_OpenMarketShortSettlesBadDebt(t *testing.T) {
	h := newHarness(t)
	h.addMaker()
	short, whale, keeper := uuid.New(), uuid.New(), uuid.New()
	h.must(&event.InsuranceFundTopUp{Header: h.header(nil), Caller: owner, Amount: 1_000 * unit})

	h.deposit(short, 10*unit)
	if err := h.openShortIn(short, testMarket, 850_000); err != nil {
		t.Fatalf("open short: %v", err)
	}
	// A large buy lifts the pool to about 109 and the index follows.
	h.deposit(whale, 50_000*unit)
	if err := h.openLong(whale, 86_000*unit); err != nil {
		t.Fatalf("open long: %v", err)
	}
	h.setIndex(109)
	fundBefore := h.engine.InsuranceFund().Balance

	outputs := h.liquidate(keeper, short, testMarket)

	liq, ok := findRecord[*event.PositionLiquidated](outputs)
	if !ok {
		t.Fatal("expected a PositionLiquidated record")
	}
	if liq.Price <= 105*fpmath.PriceScale {
		t.Errorf("open market liquidation swaps against the pool, got price %d", liq.Price)
	}
	bad, ok := findRecord[*event.BadDebtSettled](outputs)
	if !ok || bad.Amount <= 0 {
		t.Fatalf("expected bad debt, got %+v", bad)
	}
	if bad.Account != short || bad.MarketID != testMarket || bad.LiquidationID != liq.LiquidationID {
		t.Errorf("bad debt attribution: got %+v", bad)
	}

	if !h.position(short).IsFlat() {
		t.Error("liquidated position must be flat")
	}
	if got := h.balance(short); got != 0 {
		t.Errorf("account value after bad debt: got %d, want 0", got)
	}
	if want := fundBefore + liq.ToInsuranceFund - bad.Amount; h.engine.InsuranceFund().Balance != want {
		t.Errorf("insurance fund: got %d, want %d", h.engine.InsuranceFund().Balance, want)
	}
}

func TestLiquidate_BadDebtWaitsForEveryMarket(t *testing.T) {
	const btc = "BTC-USD"
	btcMarket := state.NewMarket(btc, "BTC", 100*fpmath.PriceScale)
	btcMarket.TwapInterval = 0
	h := newMarketsHarness(t, freshMarket(), btcMarket)
	h.must(&event.IndexPriceUpdate{Market: btc, Price: 100 * fpmath.PriceScale, PriceSequence: 0, PriceTimestamp: testNow})
	h.addMaker()
	h.addMakerIn(btc)

	trader, whale, keeper := uuid.New(), uuid.New(), uuid.New()
	h.must(&event.InsuranceFundTopUp{Header: h.header(nil), Caller: owner, Amount: 1_000 * unit})
	h.deposit(trader, 10*unit)
	if err := h.openShortIn(trader, testMarket, 800_000); err != nil {
		t.Fatalf("open short: %v", err)
	}
	btcID := btc
	err := h.engine.ProcessCommand(&event.OpenPosition{
		Header:     h.header(&btcID),
		Account:    trader,
		Market:     btc,
		ExactInput: true,
		Amount:     5 * unit,
	})
	if err != nil {
		t.Fatalf("open btc long: %v", err)
	}

	h.deposit(whale, 50_000*unit)
	if err := h.openLong(whale, 86_000*unit); err != nil {
		t.Fatalf("open long: %v", err)
	}
	h.setIndex(109)
	fundBefore := h.engine.InsuranceFund().Balance

	first := h.liquidate(keeper, trader, testMarket)
	liqETH, ok := findRecord[*event.PositionLiquidated](first)
	if !ok {
		t.Fatal("expected a PositionLiquidated record")
	}
	if _, ok := findRecord[*event.BadDebtSettled](first); ok {
		t.Fatal("bad debt must wait while a position stays open in another market")
	}
	if h.positionIn(trader, btc).IsFlat() {
		t.Fatal("btc position must survive the eth liquidation")
	}
	if got := h.balance(trader); got >= 0 {
		t.Fatalf("expected a deficit after the eth liquidation, got balance %d", got)
	}

	outputs := h.liquidate(keeper, trader, btc)
	liqBTC, ok := findRecord[*event.PositionLiquidated](outputs)
	if !ok {
		t.Fatal("expected a PositionLiquidated record")
	}
	bad, ok := findRecord[*event.BadDebtSettled](outputs)
	if !ok || bad.Amount <= 0 {
		t.Fatalf("expected bad debt once flat everywhere, got %+v", bad)
	}
	if bad.MarketID != btc {
		t.Errorf("bad debt market: got %s, want %s", bad.MarketID, btc)
	}
	if got := h.balance(trader); got != 0 {
		t.Errorf("account value after bad debt: got %d, want 0", got)
	}
	want := fundBefore + liqETH.ToInsuranceFund + liqBTC.ToInsuranceFund - bad.Amount
	if got := h.engine.InsuranceFund().Balance; got != want {
		t.Errorf("insurance fund: got %d, want %d", got, want)
	}
}

// ============================================================================
// Test: Market status
// ============================================================================

func TestMarketStatus_OwnerAndCooldown(t *testing.T) {
	h := newHarness(t)
	h.addMaker()
	taker := uuid.New()
	h.deposit(taker, 300*unit)
	if err := h.openLong(taker, 2_000*unit); err != nil {
		t.Fatalf("open: %v", err)
	}

	err := h.engine.ProcessCommand(&event.PauseMarket{Header: h.header(market()), Caller: uuid.New(), Market: testMarket})
	if !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	h.must(&event.PauseMarket{Header: h.header(market()), Caller: owner, Market: testMarket})

	if err := h.openLong(taker, unit); !errors.Is(err, core.ErrMarketNotOpen) {
		t.Errorf("open in paused market: expected ErrMarketNotOpen, got %v", err)
	}

	err = h.engine.ProcessCommand(&event.CloseMarketAfterCooldown{Header: h.header(market()), Caller: uuid.New(), Market: testMarket})
	if !errors.Is(err, core.ErrCooldownNotExpired) {
		t.Errorf("expected ErrCooldownNotExpired, got %v", err)
	}

	// Closing in a paused market settles at the ending index price.
	h.must(&event.ClosePosition{Header: h.header(market()), Account: taker, Market: testMarket})
	if !h.position(taker).IsFlat() {
		t.Error("expected flat position after close in paused market")
	}

	later := testNow + state.PauseCooldown
	h.must(&event.CloseMarketAfterCooldown{Header: h.headerAt(market(), later), Caller: uuid.New(), Market: testMarket})

	view, err := h.engine.Market(testMarket)
	if err != nil {
		t.Fatalf("Market: %v", err)
	}
	if view.Market.Status != state.MarketStatusClosed {
		t.Errorf("status: got %s, want closed", view.Market.Status)
	}
	err = h.engine.ProcessCommand(&event.PauseMarket{Header: h.headerAt(market(), later), Caller: owner, Market: testMarket})
	if !errors.Is(err, core.ErrMarketNotOpen) {
		t.Errorf("closed market is terminal: expected ErrMarketNotOpen, got %v", err)
	}
}

// ============================================================================
// Test: Idempotency and ordering
// ============================================================================

func TestDuplicateCommand_Dropped(t *testing.T) {
	h := newHarness(t)
	alice := uuid.New()
	cmd := &event.Deposit{Header: h.header(nil), Account: alice, Asset: "USDC", Amount: unit}
	h.must(cmd)
	drainOutputs(h.persist)
	seq := h.engine.GetSequence()

	if err := h.engine.ProcessCommand(cmd); err != nil {
		t.Fatalf("duplicate must be dropped silently, got %v", err)
	}
	if h.engine.GetSequence() != seq || len(drainOutputs(h.persist)) != 0 {
		t.Error("duplicate must not be applied")
	}
	if h.balance(alice) != unit {
		t.Errorf("balance: got %d, want %d", h.balance(alice), unit)
	}
}

func TestSourceSequence_GapAndOutOfOrder(t *testing.T) {
	h := newHarness(t)
	alice := uuid.New()

	gap := h.header(nil)
	gap.Sequence++
	err := h.engine.ProcessCommand(&event.Deposit{Header: gap, Account: alice, Asset: "USDC", Amount: unit})
	if !errors.Is(err, core.ErrSequenceGap) {
		t.Fatalf("expected ErrSequenceGap, got %v", err)
	}

	h.deposit(alice, unit)
	old := h.header(nil)
	old.Sequence = 0
	err = h.engine.ProcessCommand(&event.Deposit{Header: old, Account: alice, Asset: "USDC", Amount: unit})
	if !errors.Is(err, core.ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
	if h.engine.NextSourceSequence(nil) != 1 {
		t.Errorf("next global sequence: got %d, want 1", h.engine.NextSourceSequence(nil))
	}
}

func TestStalePrice_Dropped(t *testing.T) {
	h := newHarness(t)
	h.setIndex(105)
	drainOutputs(h.persist)
	seq := h.engine.GetSequence()

	// Lower feed sequence.
	if err := h.engine.ProcessCommand(&event.IndexPriceUpdate{
		Market: testMarket, Price: 90 * fpmath.PriceScale, PriceSequence: 0, PriceTimestamp: testNow + 10,
	}); err != nil {
		t.Fatalf("stale sequence must be dropped silently, got %v", err)
	}
	// Higher feed sequence but an older timestamp.
	if err := h.engine.ProcessCommand(&event.IndexPriceUpdate{
		Market: testMarket, Price: 90 * fpmath.PriceScale, PriceSequence: h.priceSeq + 5, PriceTimestamp: testNow - 10,
	}); err != nil {
		t.Fatalf("stale timestamp must be dropped silently, got %v", err)
	}

	if h.engine.GetSequence() != seq || len(drainOutputs(h.persist)) != 0 {
		t.Error("stale samples must not be applied")
	}
	view, err := h.engine.Market(testMarket)
	if err != nil {
		t.Fatalf("Market: %v", err)
	}
	if view.IndexPrice != 105*fpmath.PriceScale {
		t.Errorf("index price: got %d, want %d", view.IndexPrice, 105*fpmath.PriceScale)
	}
}

// ============================================================================
// Test: Recovery
// ============================================================================

// runScenario drives a mix of every money-moving command.
func runScenario(h *harness) {
	h.t.Helper()
	maker := h.addMaker()
	taker := uuid.New()
	h.deposit(taker, 500*unit)
	if err := h.openLong(taker, 2_000*unit); err != nil {
		h.t.Fatalf("open: %v", err)
	}
	h.setIndex(101)
	h.must(&event.SettleFunding{Header: h.headerAt(market(), testNow+600), Account: taker, Market: testMarket})
	h.must(&event.ClosePosition{Header: h.headerAt(market(), testNow+700), Account: taker, Market: testMarket})
	h.must(&event.RemoveLiquidity{
		Header:    h.headerAt(market(), testNow+800),
		Account:   maker,
		Market:    testMarket,
		TickLower: 45000,
		TickUpper: 47000,
		Liquidity: 1_000 * unit,
	})
}

func TestSnapshotRestore_PreservesStateHash(t *testing.T) {
	a := newHarness(t)
	runScenario(a)

	snap := a.engine.CreateSnapshotState()
	if snap.Sequence != a.engine.GetSequence()-1 {
		t.Fatalf("snapshot sequence: got %d, want %d", snap.Sequence, a.engine.GetSequence()-1)
	}

	restored, err := core.NewClearingEngine(core.Config{
		Owner:         owner,
		Markets:       []*state.Market{freshMarket()},
		StartSequence: snap.Sequence + 1,
	}, make(chan core.CoreOutput, 16), nil, nil, nil)
	if err != nil {
		t.Fatalf("NewClearingEngine: %v", err)
	}
	if err := restored.RestoreFromSnapshot(snap); err != nil {
		t.Fatalf("RestoreFromSnapshot: %v", err)
	}
	b := &harness{t: t, engine: restored}

	if a.engine.GetStateHash() != b.engine.GetStateHash() {
		t.Fatal("restored engine must carry the chain tip")
	}

	// Both engines must agree on the next command as well.
	alice := uuid.New()
	cmd := &event.Deposit{Header: a.header(nil), Account: alice, Asset: "USDC", Amount: 7 * unit}
	a.must(cmd)
	b.must(cmd)
	if a.engine.GetStateHash() != b.engine.GetStateHash() {
		t.Error("state hashes diverged after restore")
	}
	if a.engine.GetSequence() != b.engine.GetSequence() {
		t.Errorf("sequence: %d vs %d", a.engine.GetSequence(), b.engine.GetSequence())
	}
	if err := b.engine.ProcessCommand(cmd); err != nil || b.engine.GetSequence() != a.engine.GetSequence() {
		t.Error("idempotency keys must survive the snapshot")
	}
}

func TestReplay_ReproducesChain(t *testing.T) {
	a := newHarness(t)
	runScenario(a)
	outputs := drainOutputs(a.persist)

	replayOut := make(chan core.CoreOutput, 16)
	b, err := core.NewClearingEngine(core.Config{
		Owner:   owner,
		Markets: []*state.Market{freshMarket()},
	}, replayOut, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewClearingEngine: %v", err)
	}

	for _, o := range outputs {
		env := o.Envelope
		if env == nil {
			continue
		}
		cmd, err := ingestion.ParseRawEvent(ingestion.RawEvent{Data: env.Payload}, env.EventType.String())
		if err != nil {
			t.Fatalf("decode %d: %v", env.Sequence, err)
		}
		if err := b.ReplayCommand(cmd); err != nil {
			t.Fatalf("replay %d: %v", env.Sequence, err)
		}
		if b.GetStateHash() != env.StateHash {
			t.Fatalf("hash mismatch at %d", env.Sequence)
		}
	}

	if len(replayOut) != 0 {
		t.Errorf("replay must not emit outputs, got %d", len(replayOut))
	}
	if b.GetSequence() != a.engine.GetSequence() {
		t.Errorf("sequence: got %d, want %d", b.GetSequence(), a.engine.GetSequence())
	}
	for _, id := range []*string{nil, market()} {
		if got, want := b.NextSourceSequence(id), a.engine.NextSourceSequence(id); got != want {
			t.Errorf("next source sequence: got %d, want %d", got, want)
		}
	}
}

func TestReplay_SkipsRejectedTail(t *testing.T) {
	a := newHarness(t)
	runScenario(a)
	taker := uuid.New()
	a.deposit(taker, 10*unit)
	// Rejected as the last command of both partitions.
	if err := a.openLong(taker, 5_000*unit); !errors.Is(err, core.ErrInsufficientMargin) {
		t.Fatalf("expected ErrInsufficientMargin, got %v", err)
	}
	err := a.engine.ProcessCommand(&event.Withdraw{Header: a.header(nil), Account: taker, Asset: "USDC", Amount: 20 * unit})
	if err == nil {
		t.Fatal("expected the overdrawn withdrawal to be rejected")
	}
	outputs := drainOutputs(a.persist)

	b, err := core.NewClearingEngine(core.Config{
		Owner:   owner,
		Markets: []*state.Market{freshMarket()},
	}, make(chan core.CoreOutput, 16), nil, nil, nil)
	if err != nil {
		t.Fatalf("NewClearingEngine: %v", err)
	}

	cursors := make(map[string]int64)
	for _, o := range outputs {
		if r := o.Rejection; r != nil {
			if r.SourceSequence > cursors[r.Partition] {
				cursors[r.Partition] = r.SourceSequence
			}
			continue
		}
		env := o.Envelope
		cmd, err := ingestion.ParseRawEvent(ingestion.RawEvent{Data: env.Payload}, env.EventType.String())
		if err != nil {
			t.Fatalf("decode %d: %v", env.Sequence, err)
		}
		if err := b.ReplayCommand(cmd); err != nil {
			t.Fatalf("replay %d: %v", env.Sequence, err)
		}
	}
	if len(cursors) != 2 {
		t.Fatalf("expected rejections in two partitions, got %v", cursors)
	}

	// The log alone leaves both cursors on the rejected sequences.
	for _, id := range []*string{nil, market()} {
		if b.NextSourceSequence(id) != a.engine.NextSourceSequence(id)-1 {
			t.Fatalf("next source sequence before rejections: got %d, want %d",
				b.NextSourceSequence(id), a.engine.NextSourceSequence(id)-1)
		}
	}

	b.AdvanceSourceSequences(cursors)
	for _, id := range []*string{nil, market()} {
		if got, want := b.NextSourceSequence(id), a.engine.NextSourceSequence(id); got != want {
			t.Errorf("next source sequence: got %d, want %d", got, want)
		}
	}
	if b.GetStateHash() != a.engine.GetStateHash() {
		t.Error("rejections must not change the chain")
	}

	// The next live command is accepted by both.
	cmd := &event.Deposit{Header: a.header(nil), Account: taker, Asset: "USDC", Amount: unit}
	a.must(cmd)
	if err := b.ProcessCommand(cmd); err != nil {
		t.Fatalf("recovered engine rejected the next command: %v", err)
	}
	if a.engine.GetStateHash() != b.GetStateHash() {
		t.Error("state hashes diverged after the rejected tail")
	}
}
