package ingestion_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"PerpClearing/internal/event"
	"PerpClearing/internal/ingestion"

	"github.com/google/uuid"
)

var (
	testCommandID = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	testAccount   = uuid.MustParse("660e8400-e29b-41d4-a716-446655440001")
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func header(seq int64) event.Header {
	return event.Header{CommandID: testCommandID, Sequence: seq, Timestamp: 1_700_000_000}
}

func TestParseOpenPosition(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":            testCommandID.String(),
		"sequence":              int64(42),
		"timestamp":             int64(1_700_000_000),
		"account":               testAccount.String(),
		"market":                "ETH-USD",
		"is_base_to_quote":      false,
		"exact_input":           true,
		"amount":                int64(100_000_000),
		"opposite_amount_bound": int64(990_000),
		"sqrt_price_limit":      "79228162514264337593543950336",
		"deadline":              int64(1_700_000_060),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "OpenPosition")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	op, ok := evt.(*event.OpenPosition)
	if !ok {
		t.Fatalf("expected *event.OpenPosition, got %T", evt)
	}
	if op.Market != "ETH-USD" {
		t.Errorf("market: got %s, want ETH-USD", op.Market)
	}
	if op.Account != testAccount {
		t.Errorf("account: got %s, want %s", op.Account, testAccount)
	}
	if op.IsBaseToQuote || !op.ExactInput {
		t.Errorf("direction flags: got base_to_quote=%v exact_input=%v", op.IsBaseToQuote, op.ExactInput)
	}
	if op.Amount != 100_000_000 {
		t.Errorf("amount: got %d, want 100_000_000", op.Amount)
	}
	if op.SourceSequence() != 42 {
		t.Errorf("sequence: got %d, want 42", op.SourceSequence())
	}
	if op.IdempotencyKey() != testCommandID.String() {
		t.Errorf("idempotency key: got %s", op.IdempotencyKey())
	}
	if op.EventType() != event.EventTypeOpenPosition {
		t.Errorf("event type: got %v, want OpenPosition", op.EventType())
	}
}

// Every command must survive the JSON the core writes as envelope payload,
// since replay parses it back through here.
func TestParseStoredPayloads(t *testing.T) {
	cmds := []event.Event{
		&event.Deposit{Header: header(0), Account: testAccount, Asset: "USDC", Amount: 1_000_000},
		&event.Withdraw{Header: header(1), Account: testAccount, Asset: "WETH", Amount: 5},
		&event.InsuranceFundTopUp{Header: header(2), Caller: testAccount, Amount: 10},
		&event.OpenPosition{Header: header(0), Account: testAccount, Market: "ETH-USD", Amount: 1},
		&event.ClosePosition{Header: header(1), Account: testAccount, Market: "ETH-USD"},
		&event.AddLiquidity{Header: header(2), Account: testAccount, Market: "ETH-USD", TickLower: -60, TickUpper: 60, BaseMax: 1, QuoteMax: 1},
		&event.RemoveLiquidity{Header: header(3), Account: testAccount, Market: "ETH-USD", TickLower: -60, TickUpper: 60, Liquidity: 1},
		&event.Liquidate{Header: header(4), Liquidator: uuid.New(), Account: testAccount, Market: "ETH-USD"},
		&event.SettleFunding{Header: header(5), Account: testAccount, Market: "ETH-USD"},
		&event.PauseMarket{Header: header(6), Caller: testAccount, Market: "ETH-USD"},
		&event.CloseMarket{Header: header(7), Caller: testAccount, Market: "ETH-USD", Price: 100_000_000},
		&event.CloseMarketAfterCooldown{Header: header(8), Caller: testAccount, Market: "ETH-USD"},
		&event.IndexPriceUpdate{Market: "ETH-USD", Price: 100_000_000, PriceSequence: 9, PriceTimestamp: 1_700_000_000},
		&event.CollateralPriceUpdate{Asset: "WETH", Price: 100_000_000, PriceSequence: 3, PriceTimestamp: 1_700_000_000},
	}

	for _, cmd := range cmds {
		name := cmd.EventType().String()
		t.Run(name, func(t *testing.T) {
			evt, err := ingestion.ParseRawEvent(rawFromJSON(t, cmd), name)
			if err != nil {
				t.Fatalf("parse %s: %v", name, err)
			}
			if evt.EventType() != cmd.EventType() {
				t.Errorf("event type: got %v, want %v", evt.EventType(), cmd.EventType())
			}
			if evt.IdempotencyKey() != cmd.IdempotencyKey() {
				t.Errorf("idempotency key: got %s, want %s", evt.IdempotencyKey(), cmd.IdempotencyKey())
			}
			if evt.SourceSequence() != cmd.SourceSequence() {
				t.Errorf("source sequence: got %d, want %d", evt.SourceSequence(), cmd.SourceSequence())
			}
		})
	}
}

func TestParseUnknownEventType_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{}`)}
	_, err := ingestion.ParseRawEvent(raw, "NonExistentType")
	if !errors.Is(err, ingestion.ErrMalformedCommand) {
		t.Fatalf("expected ErrMalformedCommand, got %v", err)
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseRawEvent(raw, "Deposit")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseUnknownField_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"command_id": testCommandID.String(),
		"sequence":   int64(0),
		"timestamp":  int64(1_700_000_000),
		"account":    testAccount.String(),
		"asset":      "USDC",
		"amount":     int64(1),
		"memo":       "unexpected",
	}
	_, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "Deposit")
	if !errors.Is(err, ingestion.ErrMalformedCommand) {
		t.Fatalf("expected ErrMalformedCommand, got %v", err)
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"command_id": "not-a-uuid",
		"sequence":   int64(0),
		"timestamp":  int64(1_700_000_000),
		"account":    "also-not-a-uuid",
		"asset":      "USDC",
		"amount":     int64(1),
	}
	_, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "Deposit")
	if err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}

func TestParseMissingFields_Fails(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		cmd       event.Event
	}{
		{"missing command id", "Deposit", &event.Deposit{Header: event.Header{Timestamp: 1}, Account: testAccount, Asset: "USDC"}},
		{"missing timestamp", "Deposit", &event.Deposit{Header: event.Header{CommandID: testCommandID}, Account: testAccount, Asset: "USDC"}},
		{"negative sequence", "Deposit", &event.Deposit{Header: header(-1), Account: testAccount, Asset: "USDC"}},
		{"missing account", "Deposit", &event.Deposit{Header: header(0), Asset: "USDC"}},
		{"missing asset", "Withdraw", &event.Withdraw{Header: header(0), Account: testAccount}},
		{"missing market", "OpenPosition", &event.OpenPosition{Header: header(0), Account: testAccount}},
		{"missing liquidator", "Liquidate", &event.Liquidate{Header: header(0), Account: testAccount, Market: "ETH-USD"}},
		{"missing caller", "PauseMarket", &event.PauseMarket{Header: header(0), Market: "ETH-USD"}},
		{"missing price timestamp", "IndexPriceUpdate", &event.IndexPriceUpdate{Market: "ETH-USD", Price: 1}},
		{"missing collateral asset", "CollateralPriceUpdate", &event.CollateralPriceUpdate{Price: 1, PriceTimestamp: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ingestion.ParseRawEvent(rawFromJSON(t, tt.cmd), tt.eventType)
			if !errors.Is(err, ingestion.ErrMalformedCommand) {
				t.Fatalf("expected ErrMalformedCommand, got %v", err)
			}
		})
	}
}

func TestCommandSubject_RoundTrip(t *testing.T) {
	tests := []struct {
		cmd  event.Event
		want string
	}{
		{&event.Deposit{Header: header(0)}, "perp.clearing.commands.Deposit.global"},
		{&event.OpenPosition{Header: header(0), Market: "ETH-USD"}, "perp.clearing.commands.OpenPosition.ETH-USD"},
		{&event.IndexPriceUpdate{Market: "ETH-USD"}, "perp.clearing.prices.IndexPriceUpdate.ETH-USD"},
		{&event.CollateralPriceUpdate{Asset: "WETH"}, "perp.clearing.prices.CollateralPriceUpdate.WETH"},
	}

	for _, tt := range tests {
		subject := ingestion.CommandSubject(tt.cmd)
		if subject != tt.want {
			t.Errorf("subject: got %s, want %s", subject, tt.want)
		}
		eventType, err := ingestion.EventTypeFromSubject(subject)
		if err != nil {
			t.Fatalf("EventTypeFromSubject(%s): %v", subject, err)
		}
		if eventType != tt.cmd.EventType().String() {
			t.Errorf("event type: got %s, want %s", eventType, tt.cmd.EventType())
		}
	}
}

func TestEventTypeFromSubject_Rejects(t *testing.T) {
	for _, subject := range []string{
		"perp.other.Deposit.global",
		"perp.clearing.commands.NoSuchCommand.global",
	} {
		if _, err := ingestion.EventTypeFromSubject(subject); err == nil {
			t.Errorf("expected error for subject %s", subject)
		}
	}
}
