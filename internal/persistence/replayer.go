package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"SpotLedger/internal/engine"
	"SpotLedger/internal/event"
	"SpotLedger/internal/ledger"
	"SpotLedger/internal/observability"
)

// Replayer rebuilds engine state from the journaled event log on startup.
// Events are streamed in sequence order together with their transfer rows;
// Engine.Restore verifies the hash chain and sequence continuity, so a
// corrupted or truncated journal fails the boot instead of silently
// diverging.
type Replayer struct {
	log     zerolog.Logger
	db      *sql.DB
	metrics *observability.Metrics
}

func NewReplayer(db *sql.DB, metrics *observability.Metrics, log zerolog.Logger) *Replayer {
	return &Replayer{
		log:     log.With().Str("component", "replayer").Logger(),
		db:      db,
		metrics: metrics,
	}
}

// Replay feeds every journaled event into the engine and returns the last
// applied sequence. An empty journal is not an error; the engine starts
// fresh at sequence zero.
func (r *Replayer) Replay(ctx context.Context, eng *engine.Engine) (uint64, error) {
	start := time.Now()

	eventRows, err := r.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, timestamp_ms, payload, hash, prev_hash
		FROM settlement.events
		ORDER BY sequence ASC
	`)
	if err != nil {
		return 0, fmt.Errorf("query events: %w", err)
	}
	defer eventRows.Close()

	transferRows, err := r.db.QueryContext(ctx, `
		SELECT sequence, wallet, asset, delta_pips, balance_after_pips
		FROM settlement.transfers
		ORDER BY sequence ASC, position ASC
	`)
	if err != nil {
		return 0, fmt.Errorf("query transfers: %w", err)
	}
	defer transferRows.Close()

	cursor := &transferCursor{rows: transferRows}

	var lastSeq uint64
	var count uint64
	for eventRows.Next() {
		var row EventRow
		if err := eventRows.Scan(
			&row.Sequence, &row.EventType, &row.IdempotencyKey,
			&row.TimestampMs, &row.Payload, &row.Hash, &row.PrevHash,
		); err != nil {
			return 0, fmt.Errorf("scan event: %w", err)
		}

		env, err := envelopeFromRow(row)
		if err != nil {
			return 0, err
		}

		transfers, err := cursor.take(row.Sequence)
		if err != nil {
			return 0, fmt.Errorf("event %d transfers: %w", row.Sequence, err)
		}

		if err := eng.Restore(env, transfers); err != nil {
			return 0, fmt.Errorf("restore event %d: %w", row.Sequence, err)
		}

		lastSeq = env.Sequence
		count++
		if r.metrics != nil {
			r.metrics.ReplayEventsTotal.Inc()
		}
	}
	if err := eventRows.Err(); err != nil {
		return 0, fmt.Errorf("iterate events: %w", err)
	}

	elapsed := time.Since(start)
	if r.metrics != nil {
		r.metrics.ReplayDuration.Set(elapsed.Seconds())
	}
	r.log.Info().
		Uint64("events", count).
		Uint64("sequence", lastSeq).
		Dur("elapsed", elapsed).
		Msg("replay complete")

	return lastSeq, nil
}

func envelopeFromRow(row EventRow) (event.Envelope, error) {
	eventType, err := event.ParseType(row.EventType)
	if err != nil {
		return event.Envelope{}, fmt.Errorf("event %d: %w", row.Sequence, err)
	}
	if len(row.Hash) != 32 || len(row.PrevHash) != 32 {
		return event.Envelope{}, fmt.Errorf("event %d: malformed hash columns", row.Sequence)
	}
	env := event.Envelope{
		Sequence:       uint64(row.Sequence),
		IdempotencyKey: row.IdempotencyKey,
		EventType:      eventType,
		TimestampMs:    uint64(row.TimestampMs),
		Payload:        row.Payload,
	}
	copy(env.Hash[:], row.Hash)
	copy(env.PrevHash[:], row.PrevHash)
	return env, nil
}

// transferCursor merges the transfer stream into the event stream: take
// consumes all rows for one sequence, holding at most one row ahead.
type transferCursor struct {
	rows    *sql.Rows
	pending *transferScan
	done    bool
}

type transferScan struct {
	sequence int64
	transfer ledger.Transfer
}

func (c *transferCursor) take(sequence int64) ([]ledger.Transfer, error) {
	var out []ledger.Transfer
	for {
		if c.pending == nil {
			if c.done || !c.rows.Next() {
				c.done = true
				if err := c.rows.Err(); err != nil {
					return nil, err
				}
				return out, nil
			}
			var seq, delta, after int64
			var wallet, assetAddr string
			if err := c.rows.Scan(&seq, &wallet, &assetAddr, &delta, &after); err != nil {
				return nil, err
			}
			c.pending = &transferScan{
				sequence: seq,
				transfer: ledger.Transfer{
					Wallet:             common.HexToAddress(wallet),
					Asset:              common.HexToAddress(assetAddr),
					DeltaInPips:        delta,
					BalanceAfterInPips: uint64(after),
				},
			}
		}
		if c.pending.sequence != sequence {
			if c.pending.sequence < sequence {
				return nil, fmt.Errorf("orphaned transfer at sequence %d", c.pending.sequence)
			}
			return out, nil
		}
		out = append(out, c.pending.transfer)
		c.pending = nil
	}
}
