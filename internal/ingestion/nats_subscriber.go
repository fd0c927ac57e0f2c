// Package ingestion is the NATS JetStream shell around the settlement loop:
// it subscribes to the dispatcher's instruction subjects, parses messages
// into typed engine calls, enforces per-partition source ordering, and
// publishes sealed outputs for downstream consumers.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber creates JetStream consumers and feeds raw messages into the
// processor's channel. Each subject maps to one instruction kind.
type NATSSubscriber struct {
	log       zerolog.Logger
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
}

// RawEvent is one undecoded NATS message plus its ack handles.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func()
	NakFunc   func()
}

// SubjectConfig maps a NATS subject to an instruction kind.
type SubjectConfig struct {
	Subject         string
	InstructionKind string
	ConsumerName    string
	StreamName      string
}

// DefaultSubjects returns the standard subject configuration. Each
// instruction family has its own subject so consumers scale independently.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "spot.trades.book.>", InstructionKind: "OrderBookTrade", ConsumerName: "ledger-trades-book", StreamName: "SPOT_TRADES"},
		{Subject: "spot.trades.pool.>", InstructionKind: "PoolTrade", ConsumerName: "ledger-trades-pool", StreamName: "SPOT_TRADES"},
		{Subject: "spot.trades.hybrid.>", InstructionKind: "HybridTrade", ConsumerName: "ledger-trades-hybrid", StreamName: "SPOT_TRADES"},
		{Subject: "spot.withdrawals.>", InstructionKind: "Withdrawal", ConsumerName: "ledger-withdrawals", StreamName: "SPOT_WITHDRAWALS"},
		{Subject: "spot.liquidity.add.>", InstructionKind: "LiquidityAddition", ConsumerName: "ledger-liquidity-add", StreamName: "SPOT_LIQUIDITY"},
		{Subject: "spot.liquidity.remove.>", InstructionKind: "LiquidityRemoval", ConsumerName: "ledger-liquidity-remove", StreamName: "SPOT_LIQUIDITY"},
		{Subject: "spot.nonces.invalidate.>", InstructionKind: "NonceInvalidation", ConsumerName: "ledger-nonces", StreamName: "SPOT_NONCES"},
		{Subject: "spot.deposits.>", InstructionKind: "Deposit", ConsumerName: "ledger-deposits", StreamName: "SPOT_DEPOSITS"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, log zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		log:       log.With().Str("component", "nats").Logger(),
		js:        js,
		eventChan: eventChan,
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
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{Name: "SPOT_TRADES", Subjects: []string{"spot.trades.>"}},
		{Name: "SPOT_WITHDRAWALS", Subjects: []string{"spot.withdrawals.>"}},
		{Name: "SPOT_LIQUIDITY", Subjects: []string{"spot.liquidity.>"}},
		{Name: "SPOT_NONCES", Subjects: []string{"spot.nonces.>"}},
		{Name: "SPOT_DEPOSITS", Subjects: []string{"spot.deposits.>"}},
	}

	for _, cfg := range streams {
		cfg.Storage = jetstream.FileStorage
		cfg.Retention = jetstream.LimitsPolicy
		cfg.MaxAge = 72 * time.Hour
		cfg.Replicas = 1
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("stream ensured")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
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
