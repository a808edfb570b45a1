package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"PerpClearing/internal/core"
	"PerpClearing/internal/event"
	"PerpClearing/internal/ingestion"
	"PerpClearing/internal/observability"
	"PerpClearing/internal/persistence"
	"PerpClearing/internal/projection"

	"github.com/rs/zerolog"
)

// outputBridge converts core outputs into the persistence, projection and
// publish formats. Those packages do not import core.
type outputBridge struct {
	persistIn    <-chan core.CoreOutput
	projectionIn <-chan core.CoreOutput

	persistOut    chan<- persistence.CoreOutput
	projectionOut chan<- projection.ProjectionOutput
	publishOut    chan<- ingestion.PublishableEvent

	metrics *observability.Metrics
}

// Run forwards until both inputs are closed, then closes the outputs.
func (b *outputBridge) Run() {
	defer close(b.persistOut)
	defer close(b.projectionOut)
	defer close(b.publishOut)

	persistIn, projectionIn := b.persistIn, b.projectionIn
	for persistIn != nil || projectionIn != nil {
		select {
		case output, ok := <-persistIn:
			if !ok {
				persistIn = nil
				continue
			}
			// Blocking: the event log must see every command.
			b.persistOut <- toPersistence(output)
			if output.Rejection != nil {
				continue
			}
			for _, pe := range ingestion.PublishableEvents(output.Envelope, output.Records) {
				select {
				case b.publishOut <- pe:
				default:
					b.metrics.PublishDrops.Inc()
				}
			}

		case output, ok := <-projectionIn:
			if !ok {
				projectionIn = nil
				continue
			}
			select {
			case b.projectionOut <- toProjection(output):
			default:
				b.metrics.ProjectionDrops.Inc()
			}
		}
	}
}

func toPersistence(output core.CoreOutput) persistence.CoreOutput {
	if r := output.Rejection; r != nil {
		return persistence.CoreOutput{Rejection: &persistence.RejectionRow{
			Partition:      r.Partition,
			SourceSequence: r.SourceSequence,
			EventType:      r.EventType.String(),
			IdempotencyKey: r.IdempotencyKey,
			Reason:         r.Reason,
			Detail:         r.Detail,
			Timestamp:      r.Timestamp,
		}}
	}

	env := output.Envelope
	var marketID *string
	if env.MarketID != nil {
		s := *env.MarketID
		marketID = &s
	}

	p := persistence.CoreOutput{
		EventRow: persistence.EventRow{
			Sequence:       env.Sequence,
			EventType:      env.EventType.String(),
			IdempotencyKey: env.IdempotencyKey,
			MarketID:       marketID,
			Payload:        env.Payload,
			StateHash:      append([]byte(nil), env.StateHash[:]...),
			PrevHash:       append([]byte(nil), env.PrevHash[:]...),
			Timestamp:      env.Timestamp,
			SourceSequence: env.SourceSequence,
		},
	}

	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			p.JournalRows = append(p.JournalRows, persistence.JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				EventRef:      j.EventRef,
				Sequence:      j.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				AssetID:       uint16(j.AssetID),
				Amount:        j.Amount,
				JournalType:   int32(j.JournalType),
				Timestamp:     j.Timestamp,
			})
		}
	}

	for i, r := range output.Records {
		payload, err := json.Marshal(r)
		if err != nil {
			// Records are plain structs; this only fails on a programming error.
			payload = []byte(`{}`)
		}
		p.RecordRows = append(p.RecordRows, persistence.RecordRow{
			Sequence:   env.Sequence,
			Index:      i,
			RecordType: r.RecordType().String(),
			MarketID:   r.Market(),
			Payload:    payload,
			Timestamp:  env.Timestamp.Unix(),
		})
	}
	return p
}

func toProjection(output core.CoreOutput) projection.ProjectionOutput {
	p := projection.ProjectionOutput{
		Sequence:  output.Envelope.Sequence,
		EventType: output.Envelope.EventType.String(),
		Timestamp: output.Envelope.Timestamp.Unix(),
		Positions: output.Positions,
		Records:   output.Records,
	}
	for key, balance := range output.Balances {
		p.Balances = append(p.Balances, projection.BalanceEntry{
			AccountPath: key.AccountPath(),
			AssetID:     uint16(key.AssetID),
			Balance:     balance,
		})
	}
	return p
}

// runIngestionLoop feeds NATS commands to the engine. Messages are acked
// once the command has been handed to the engine, so a slow engine holds
// back delivery instead of letting AckWait expire.
func runIngestionLoop(ctx context.Context, rawChan <-chan ingestion.RawEvent, engine *core.ClearingEngine, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-rawChan:
			cmd, err := ingestion.ParseRawEvent(raw, raw.EventType)
			if err != nil {
				// Redelivery cannot fix a malformed command.
				logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed command")
				raw.AckFunc()
				continue
			}
			apply(engine, cmd, logger)
			raw.AckFunc()
		}
	}
}

// runAdminLoop feeds operator commands injected over the HTTP API.
func runAdminLoop(ctx context.Context, adminChan <-chan event.Event, engine *core.ClearingEngine, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-adminChan:
			apply(engine, cmd, logger)
		}
	}
}

func apply(engine *core.ClearingEngine, cmd event.Event, logger zerolog.Logger) {
	err := engine.ProcessCommand(cmd)
	if err == nil {
		return
	}
	evt := logger.Warn()
	if errors.Is(err, core.ErrInvariantViolation) {
		evt = logger.Error()
	}
	evt.Err(err).
		Str("type", cmd.EventType().String()).
		Str("key", cmd.IdempotencyKey()).
		Int64("source_sequence", cmd.SourceSequence()).
		Msg("command rejected")
}

func observeChannels(ctx context.Context, metrics *observability.Metrics, channels map[string]func() (int, int)) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, depth := range channels {
				size, capacity := depth()
				metrics.ObserveChannel(name, size, capacity)
			}
		}
	}
}
