package ingestion_test

import (
	"context"
	"testing"

	"PerpClearing/internal/event"
	"PerpClearing/internal/ingestion"

	"github.com/google/uuid"
)

type fixedSequences map[string]int64

func (f fixedSequences) NextSourceSequence(marketID *string) int64 {
	if marketID == nil {
		return f[event.GlobalMarket]
	}
	return f[*marketID]
}

func TestInject_AssignsConsecutiveSequences(t *testing.T) {
	ch := make(chan event.Event, 4)
	svc := ingestion.NewGRPCIngestService(ch, fixedSequences{event.GlobalMarket: 7, "ETH-USD": 3})
	ctx := context.Background()
	account := uuid.New()

	if _, err := svc.InjectDeposit(ctx, account, "USDC", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := svc.InjectWithdraw(ctx, account, "USDC", 50); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := svc.PauseMarket(ctx, account, "ETH-USD"); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// The engine has not consumed anything yet, so the second global command
	// must not reuse sequence 7.
	want := []int64{7, 8, 3}
	for i, w := range want {
		cmd := <-ch
		if cmd.SourceSequence() != w {
			t.Errorf("command %d: sequence got %d, want %d", i, cmd.SourceSequence(), w)
		}
	}
}

func TestInject_RejectsNonPositiveAmounts(t *testing.T) {
	ch := make(chan event.Event, 1)
	svc := ingestion.NewGRPCIngestService(ch, fixedSequences{})
	ctx := context.Background()

	if _, err := svc.InjectDeposit(ctx, uuid.New(), "USDC", 0); err == nil {
		t.Error("expected error for zero deposit")
	}
	if _, err := svc.InjectIndexPrice(ctx, "ETH-USD", -1, 1); err == nil {
		t.Error("expected error for negative index price")
	}
	if _, err := svc.CloseMarket(ctx, uuid.New(), "ETH-USD", 0); err == nil {
		t.Error("expected error for zero close price")
	}
	if len(ch) != 0 {
		t.Errorf("expected nothing queued, got %d", len(ch))
	}
}

func TestInject_HonoursContextCancel(t *testing.T) {
	ch := make(chan event.Event) // unbuffered, never read
	svc := ingestion.NewGRPCIngestService(ch, fixedSequences{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.InjectInsuranceTopUp(ctx, uuid.New(), 10); err == nil {
		t.Fatal("expected context error")
	}
}

func TestPublishableEvents_IndexesRecords(t *testing.T) {
	env := &event.EventEnvelope{Sequence: 12, IdempotencyKey: "k"}
	records := []event.Record{
		&event.PositionChanged{MarketID: "ETH-USD"},
		&event.InsuranceFundChanged{Delta: 1},
	}

	out := ingestion.PublishableEvents(env, records)
	if len(out) != 2 {
		t.Fatalf("expected 2 events, got %d", len(out))
	}
	if out[0].Index != 0 || out[1].Index != 1 {
		t.Errorf("indexes: got %d, %d", out[0].Index, out[1].Index)
	}
	if out[0].Market != "ETH-USD" || out[1].Market != event.GlobalMarket {
		t.Errorf("markets: got %s, %s", out[0].Market, out[1].Market)
	}
	if got := ingestion.EventSubject(out[1].RecordType, out[1].Market); got != "perp.clearing.events.insurance_fund_changed.global" {
		t.Errorf("subject: got %s", got)
	}
}
