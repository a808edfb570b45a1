package projection_test

import (
	"testing"

	"PerpClearing/internal/event"
	"PerpClearing/internal/projection"
	"PerpClearing/internal/state"

	"github.com/google/uuid"
)

func TestAffected_CollectsAccountsAndMarkets(t *testing.T) {
	trader := uuid.New()
	liquidator := uuid.New()
	depositor := uuid.New()

	accounts, markets := projection.Affected(projection.ProjectionOutput{
		Positions: []state.Position{{Account: trader, MarketID: "ETH-USD"}},
		Records: []event.Record{
			&event.PositionLiquidated{Account: trader, Liquidator: liquidator, MarketID: "ETH-USD"},
			&event.CollateralDeposited{Account: depositor},
			&event.InsuranceFundChanged{Delta: 1},
			&event.MarketStatusChanged{MarketID: "BTC-USD"},
		},
	})

	if len(accounts) != 3 {
		t.Fatalf("accounts: got %v", accounts)
	}
	want := map[uuid.UUID]bool{trader: true, liquidator: true, depositor: true}
	for _, a := range accounts {
		if !want[a] {
			t.Errorf("unexpected account %s", a)
		}
	}
	if len(markets) != 2 || markets[0] != "ETH-USD" || markets[1] != "BTC-USD" {
		t.Errorf("markets: got %v", markets)
	}
}

func TestAffected_Empty(t *testing.T) {
	accounts, markets := projection.Affected(projection.ProjectionOutput{})
	if len(accounts) != 0 || len(markets) != 0 {
		t.Errorf("expected nothing, got %v %v", accounts, markets)
	}
}
