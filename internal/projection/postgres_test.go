package projection_test

import (
	"context"
	"testing"
	"time"

	"PerpClearing/internal/event"
	"PerpClearing/internal/ledger"
	"PerpClearing/internal/projection"
	"PerpClearing/internal/query"
	"PerpClearing/internal/state"
	"PerpClearing/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type recordingInvalidator struct {
	accounts []uuid.UUID
	markets  []string
}

func (r *recordingInvalidator) InvalidateAccounts(_ context.Context, accounts []uuid.UUID) error {
	r.accounts = append(r.accounts, accounts...)
	return nil
}

func (r *recordingInvalidator) InvalidateMarkets(_ context.Context, markets []string) error {
	r.markets = append(r.markets, markets...)
	return nil
}

func TestProjectionWorker_AppliesOutputs(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	trader := uuid.New()
	liquidator := uuid.New()
	liqID := uuid.New()
	collateral := ledger.UserCollateral(trader, ledger.AssetUSDC)

	in := make(chan projection.ProjectionOutput, 3)
	in <- projection.ProjectionOutput{
		Sequence:  0,
		EventType: "Deposit",
		Balances:  []projection.BalanceEntry{{AccountPath: collateral.AccountPath(), AssetID: uint16(ledger.AssetUSDC), Balance: 100_000_000}},
		Records:   []event.Record{&event.CollateralDeposited{Account: trader, Asset: "USDC", Amount: 100_000_000, Balance: 100_000_000}},
	}
	in <- projection.ProjectionOutput{
		Sequence:  1,
		EventType: "OpenPosition",
		Positions: []state.Position{{Account: trader, MarketID: "ETH-USD", Size: 1_000_000, OpenNotional: -2_000_000_000, Version: 1}},
	}
	in <- projection.ProjectionOutput{
		Sequence:  2,
		EventType: "Liquidate",
		Positions: []state.Position{{Account: trader, MarketID: "ETH-USD", Version: 2}},
		Records: []event.Record{
			&event.PositionLiquidated{LiquidationID: liqID, Account: trader, Liquidator: liquidator, MarketID: "ETH-USD", Penalty: 10},
			&event.BadDebtSettled{LiquidationID: liqID, Account: trader, MarketID: "ETH-USD", Amount: 7},
			&event.InsuranceFundChanged{Delta: -2, Balance: 3},
		},
	}
	close(in)

	inv := &recordingInvalidator{}
	worker := projection.NewProjectionWorker(db, in, inv, nil, zerolog.Nop())
	if err := worker.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	qs := query.NewQueryService(db)

	balances, err := qs.GetBalances(ctx, trader)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if balances.Balances["USDC"] != 100_000_000 || balances.AsOfSequence != 2 {
		t.Errorf("unexpected balances: %+v", balances)
	}

	positions, err := qs.GetPositions(ctx, trader)
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("flat position should be removed, got %+v", positions)
	}

	liqs, err := qs.GetLiquidations(ctx, liquidator, 10)
	if err != nil {
		t.Fatalf("liquidations: %v", err)
	}
	if len(liqs) != 1 || liqs[0].BadDebt != 7 || liqs[0].Account != trader {
		t.Errorf("unexpected liquidations: %+v", liqs)
	}

	fund, err := qs.GetInsuranceFund(ctx)
	if err != nil {
		t.Fatalf("insurance fund: %v", err)
	}
	if fund.Balance != 3 {
		t.Errorf("insurance fund: got %d, want 3", fund.Balance)
	}

	if len(inv.accounts) == 0 || len(inv.markets) == 0 {
		t.Errorf("expected invalidations, got %v %v", inv.accounts, inv.markets)
	}
}
