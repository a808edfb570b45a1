package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PerpClearing/internal/event"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// EventSubjectPrefix roots outbound records:
// perp.clearing.events.{record_type}.{market}
const EventSubjectPrefix = "perp.clearing.events"

// OutboundPublisher publishes emitted records to NATS for downstream
// consumers after the command that produced them is persisted.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	logger    zerolog.Logger
}

// PublishableEvent is one emitted record ready for outbound publishing.
type PublishableEvent struct {
	Sequence int64 `json:"sequence"`
	// Index orders the records of one command.
	Index          int          `json:"index"`
	RecordType     string       `json:"record_type"`
	IdempotencyKey string       `json:"idempotency_key"`
	Market         string       `json:"market"`
	Payload        event.Record `json:"payload"`
	StateHash      []byte       `json:"state_hash"`
	Timestamp      time.Time    `json:"timestamp"`
}

// PublishableEvents fans a committed envelope out into one event per record.
func PublishableEvents(env *event.EventEnvelope, records []event.Record) []PublishableEvent {
	out := make([]PublishableEvent, 0, len(records))
	for i, r := range records {
		out = append(out, PublishableEvent{
			Sequence:       env.Sequence,
			Index:          i,
			RecordType:     r.RecordType().String(),
			IdempotencyKey: env.IdempotencyKey,
			Market:         r.Market(),
			Payload:        r,
			StateHash:      env.StateHash[:],
			Timestamp:      env.Timestamp,
		})
	}
	return out
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: downstream consumers can query the event log directly
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Str("record", evt.RecordType).Msg("outbound publish failed")
			}
		}
	}
}

// EventSubject is the outbound subject of one record.
func EventSubject(recordType, market string) string {
	return fmt.Sprintf("%s.%s.%s", EventSubjectPrefix, recordType, market)
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// Msg id lets JetStream drop republished duplicates after a restart.
	msgID := fmt.Sprintf("%d:%d", evt.Sequence, evt.Index)
	_, err = op.js.Publish(ctx, EventSubject(evt.RecordType, evt.Market), data, jetstream.WithMsgID(msgID))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       "PERP_CLEARING_EVENTS",
		Subjects:   []string{EventSubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", "PERP_CLEARING_EVENTS").Msg("ensured outbound stream")
	return nil
}
