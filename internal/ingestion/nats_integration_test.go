package ingestion_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"PerpClearing/internal/event"
	"PerpClearing/internal/ingestion"
	"PerpClearing/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestNATSSubscriber_DeliversPublishedCommand(t *testing.T) {
	testutil.RequireIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	nc, js, err := ingestion.ConnectNATS(testutil.TestNATSURL(), zerolog.Nop())
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js, zerolog.Nop()); err != nil {
		t.Fatalf("ensure streams: %v", err)
	}

	consumer := "test-" + uuid.NewString()
	rawChan := make(chan ingestion.RawEvent, 16)
	sub := ingestion.NewNATSSubscriber(js, rawChan, zerolog.Nop())
	err = sub.Subscribe(ctx, []ingestion.SubjectConfig{{
		Subject:       ingestion.CommandSubjectPrefix + ".Deposit.global",
		ConsumerName:  consumer,
		StreamName:    "PERP_CLEARING_COMMANDS",
		MaxAckPending: 1,
	}})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer func() {
		sub.Stop()
		_ = js.DeleteConsumer(context.Background(), "PERP_CLEARING_COMMANDS", consumer)
	}()

	cmd := &event.Deposit{
		Header:  event.Header{CommandID: uuid.New(), Sequence: 0, Timestamp: time.Now().Unix()},
		Account: testAccount,
		Asset:   "USDC",
		Amount:  1_000_000,
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := js.Publish(ctx, ingestion.CommandSubject(cmd), data); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// The stream keeps commands from earlier runs; wait for ours.
	for {
		select {
		case <-ctx.Done():
			t.Fatal("timed out waiting for the published command")
		case raw := <-rawChan:
			raw.AckFunc()
			if raw.EventType != "Deposit" {
				t.Fatalf("event type: got %s, want Deposit", raw.EventType)
			}
			evt, err := ingestion.ParseRawEvent(raw, raw.EventType)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if evt.IdempotencyKey() != cmd.IdempotencyKey() {
				continue
			}
			got := evt.(*event.Deposit)
			if got.Account != cmd.Account || got.Amount != cmd.Amount {
				t.Errorf("deposit: got %+v, want %+v", got, cmd)
			}
			return
		}
	}
}
