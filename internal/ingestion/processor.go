package ingestion

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"SpotLedger/internal/engine"
	"SpotLedger/internal/observability"
)

// Processor drains raw NATS messages, parses them into instructions, checks
// source ordering, and submits them to the engine loop. ACK/NAK discipline:
// applied and duplicate instructions ACK; transient failures and ordering
// gaps NAK so JetStream redelivers (bounded by the consumer's max_deliver);
// unparseable messages ACK after logging, since redelivery cannot fix them.
type Processor struct {
	log        zerolog.Logger
	loop       *engine.Loop
	eventChan  <-chan RawEvent
	subjects   []SubjectConfig
	sequences  *SequenceValidator
	dispatcher common.Address
	metrics    *observability.Metrics
}

func NewProcessor(
	loop *engine.Loop,
	eventChan <-chan RawEvent,
	subjects []SubjectConfig,
	dispatcher common.Address,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Processor {
	return &Processor{
		log:        log.With().Str("component", "processor").Logger(),
		loop:       loop,
		eventChan:  eventChan,
		subjects:   subjects,
		sequences:  NewSequenceValidator(),
		dispatcher: dispatcher,
		metrics:    metrics,
	}
}

// Run processes messages until ctx is cancelled or the channel closes.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-p.eventChan:
			if !ok {
				return nil
			}
			p.handle(ctx, raw)
		}
	}
}

func (p *Processor) handle(ctx context.Context, raw RawEvent) {
	kind := p.kindForSubject(raw.Subject)
	if kind == "" {
		p.log.Warn().Str("subject", raw.Subject).Msg("message on unmapped subject")
		raw.AckFunc()
		return
	}

	instr, err := ParseRawEvent(raw, kind)
	if err != nil {
		p.log.Error().Err(err).Str("subject", raw.Subject).Msg("unparseable instruction")
		raw.AckFunc()
		return
	}

	if _, err := p.sequences.Validate(instr.Partition, instr.SourceSequence); err != nil {
		p.log.Warn().Err(err).Str("operation", instr.Operation).Msg("instruction out of order")
		raw.NakFunc()
		return
	}

	caller := p.dispatcher
	if instr.Caller != nil {
		caller = *instr.Caller
	}
	tx := engine.TxContext{Caller: caller, TimestampMs: instr.TimestampMs}

	_, err = p.loop.Submit(ctx, instr.Operation, func(e *engine.Engine) (engine.Output, error) {
		return instr.Apply(e, tx)
	})

	switch {
	case err == nil:
		if p.metrics != nil {
			p.metrics.IngestToApply.WithLabelValues(instr.Operation).
				Observe(time.Since(raw.Timestamp).Seconds())
		}
		raw.AckFunc()

	case isDuplicate(err):
		raw.AckFunc()

	case errors.Is(err, engine.ErrLoopStopped) || errors.Is(err, context.Canceled):
		raw.NakFunc()

	default:
		// Deterministic rejection: the instruction is invalid against the
		// current state and will never apply. Redelivery cannot change the
		// outcome, so ACK and leave the audit trail in the log.
		p.log.Error().Err(err).
			Str("operation", instr.Operation).
			Str("partition", instr.Partition).
			Msg("instruction rejected")
		raw.AckFunc()
	}
}

func (p *Processor) kindForSubject(subject string) string {
	for _, cfg := range p.subjects {
		prefix := strings.TrimSuffix(cfg.Subject, ">")
		if strings.HasPrefix(subject, prefix) {
			return cfg.InstructionKind
		}
	}
	return ""
}

func isDuplicate(err error) bool {
	return errors.Is(err, engine.ErrTradeAlreadySettled) ||
		errors.Is(err, engine.ErrWithdrawalAlreadySettled) ||
		errors.Is(err, engine.ErrAlreadyInvalidated)
}
