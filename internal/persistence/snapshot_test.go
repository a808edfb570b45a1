package persistence_test

import (
	"testing"
	"time"

	"PerpClearing/internal/ledger"
	"PerpClearing/internal/oracle"
	"PerpClearing/internal/persistence"
	"PerpClearing/internal/state"

	"github.com/google/uuid"
)

func TestSnapshot_EncodeDecode(t *testing.T) {
	account := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	snap := &persistence.SnapshotData{
		Sequence:  41,
		Clock:     1_700_000_000,
		StateHash: []byte{1, 2, 3},
		Balances: map[ledger.AccountKey]int64{
			ledger.UserCollateral(account, ledger.AssetUSDC): 1_000_000,
			ledger.InsuranceFundAccount:                      -7,
		},
		Positions: state.PositionSnapshot{
			Positions: []state.Position{{Account: account, MarketID: "ETH-USD", Size: 5, OpenNotional: -500}},
			Funding:   map[string]state.FundingGrowth{"ETH-USD": {MarketID: "ETH-USD", Growth: 12}},
		},
		Prices: oracle.FeedSnapshot{
			Index: map[string][]oracle.Sample{"ETH-USD": {{Timestamp: 10, Price: 100}}},
		},
		SequenceState:   map[string]int64{"global": 3},
		IdempotencyKeys: []string{"Deposit:abc"},
		CreatedAt:       time.Unix(1_700_000_000, 0).UTC(),
	}

	data, err := persistence.EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := persistence.DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.Sequence != 41 || got.Clock != 1_700_000_000 {
		t.Errorf("header: got seq=%d clock=%d", got.Sequence, got.Clock)
	}
	if got.Balances[ledger.UserCollateral(account, ledger.AssetUSDC)] != 1_000_000 {
		t.Errorf("user balance lost: %v", got.Balances)
	}
	if got.Balances[ledger.InsuranceFundAccount] != -7 {
		t.Errorf("insurance balance lost: %v", got.Balances)
	}
	if len(got.Positions.Positions) != 1 || got.Positions.Positions[0].OpenNotional != -500 {
		t.Errorf("positions: got %+v", got.Positions.Positions)
	}
	if got.Positions.Funding["ETH-USD"].Growth != 12 {
		t.Errorf("funding growth lost")
	}
	if got.Prices.Index["ETH-USD"][0].Price != 100 {
		t.Errorf("price samples lost")
	}
	if got.SequenceState["global"] != 3 {
		t.Errorf("sequence state lost")
	}
}
