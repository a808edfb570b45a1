package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"PerpClearing/internal/event"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Inbound subjects are {prefix}.{event_type}.{partition}. Price samples use
// their own prefix so they can live in a separate stream.
const (
	CommandSubjectPrefix = "perp.clearing.commands"
	PriceSubjectPrefix   = "perp.clearing.prices"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds commands
// into the clearing engine via the eventChan.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawEvent is the untyped command from NATS, ready for the shell to parse
// into a typed event.Event before sending to the engine.
type RawEvent struct {
	Subject   string
	EventType string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig binds a subject filter to a durable consumer.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
	// MaxAckPending 1 keeps delivery strictly ordered.
	MaxAckPending int
}

// CommandSubject builds the subject a producer publishes cmd on.
func CommandSubject(cmd event.Event) string {
	prefix, partition := CommandSubjectPrefix, event.GlobalMarket
	if m := cmd.MarketID(); m != nil {
		partition = *m
	}
	if feed, ok := cmd.(event.PriceFeed); ok {
		prefix = PriceSubjectPrefix
		_, partition, _ = strings.Cut(feed.FeedKey(), ":")
	}
	return fmt.Sprintf("%s.%s.%s", prefix, cmd.EventType(), partition)
}

// EventTypeFromSubject extracts the command type token of an inbound subject.
func EventTypeFromSubject(subject string) (string, error) {
	rest, ok := strings.CutPrefix(subject, CommandSubjectPrefix+".")
	if !ok {
		rest, ok = strings.CutPrefix(subject, PriceSubjectPrefix+".")
	}
	if !ok {
		return "", fmt.Errorf("subject %q is not an inbound subject", subject)
	}
	eventType, _, _ := strings.Cut(rest, ".")
	if _, ok := event.ParseEventType(eventType); !ok {
		return "", fmt.Errorf("subject %q: unknown event type %q", subject, eventType)
	}
	return eventType, nil
}

// DefaultSubjects returns the standard consumers. Account and market
// commands share one ordered consumer so source sequences arrive in order;
// price samples tolerate gaps and get their own.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{
			Subject:       CommandSubjectPrefix + ".>",
			ConsumerName:  "clearing-commands",
			StreamName:    "PERP_CLEARING_COMMANDS",
			MaxAckPending: 1,
		},
		{
			Subject:       PriceSubjectPrefix + ".>",
			ConsumerName:  "clearing-prices",
			StreamName:    "PERP_CLEARING_PRICES",
			MaxAckPending: 1,
		},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			MaxAckPending: cfg.MaxAckPending,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			eventType, err := EventTypeFromSubject(msg.Subject())
			if err != nil {
				// Redelivery cannot fix a bad subject.
				ns.logger.Warn().Err(err).Msg("terminating message")
				_ = msg.Term()
				return
			}
			raw := RawEvent{
				Subject:   msg.Subject(),
				EventType: eventType,
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { _ = msg.Ack() },
				NakFunc:   func() { _ = msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the inbound JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "PERP_CLEARING_COMMANDS",
			Subjects:  []string{CommandSubjectPrefix + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "PERP_CLEARING_PRICES",
			Subjects:  []string{PriceSubjectPrefix + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    24 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("perp-clearing"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
