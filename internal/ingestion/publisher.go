package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"SpotLedger/internal/engine"
)

// OutboundPublisher publishes sealed settlement events to NATS for
// downstream consumers. Subjects follow spot.ledger.events.{event_type}.
// Publication is best-effort: the journal is the system of record and
// consumers that miss a message page the event log instead.
type OutboundPublisher struct {
	log       zerolog.Logger
	js        jetstream.JetStream
	inputChan <-chan engine.Output
}

// publishedEvent is the outbound wire form of one sealed envelope.
type publishedEvent struct {
	Sequence       uint64          `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	TimestampMs    uint64          `json:"timestamp_ms"`
	Payload        json.RawMessage `json:"payload"`
	Hash           string          `json:"hash"`
	PrevHash       string          `json:"prev_hash"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan engine.Output, log zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		log:       log.With().Str("component", "publisher").Logger(),
		js:        js,
		inputChan: inputChan,
	}
}

// Run drains the publish channel until ctx is cancelled or it closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, out); err != nil {
				op.log.Warn().Err(err).
					Uint64("sequence", out.Envelope.Sequence).
					Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out engine.Output) error {
	env := out.Envelope
	data, err := json.Marshal(publishedEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		TimestampMs:    env.TimestampMs,
		Payload:        env.Payload,
		Hash:           hex.EncodeToString(env.Hash[:]),
		PrevHash:       hex.EncodeToString(env.PrevHash[:]),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("spot.ledger.events.%s", env.EventType)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "SPOT_LEDGER_EVENTS",
		Subjects:  []string{"spot.ledger.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Info().Msg("outbound stream SPOT_LEDGER_EVENTS ensured")
	return nil
}
