// Package persistence journals settlement outputs to Postgres and replays
// them on startup. The event table is the durable system of record; the
// transfer table journals the balance deltas each event applied so that
// projections and audits never need to re-derive them from payloads.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"SpotLedger/internal/engine"
)

// EventRow is one row in settlement.events, mirroring event.Envelope.
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	TimestampMs    int64
	Payload        []byte
	Hash           []byte
	PrevHash       []byte
}

// TransferRow is one row in settlement.transfers: a single balance delta
// applied by the event at Sequence. Position preserves the in-event order.
type TransferRow struct {
	Sequence         int64
	Position         int32
	Wallet           string
	Asset            string
	DeltaPips        int64
	BalanceAfterPips int64
}

// Record is one engine output flattened into rows ready for batch insert.
type Record struct {
	Event     EventRow
	Transfers []TransferRow
}

// RecordFromOutput converts a sealed engine output into its row form.
func RecordFromOutput(out engine.Output) Record {
	env := out.Envelope
	rec := Record{
		Event: EventRow{
			Sequence:       int64(env.Sequence),
			EventType:      env.EventType.String(),
			IdempotencyKey: env.IdempotencyKey,
			TimestampMs:    int64(env.TimestampMs),
			Payload:        env.Payload,
			Hash:           append([]byte(nil), env.Hash[:]...),
			PrevHash:       append([]byte(nil), env.PrevHash[:]...),
		},
	}
	for i, t := range out.Transfers {
		rec.Transfers = append(rec.Transfers, TransferRow{
			Sequence:         int64(env.Sequence),
			Position:         int32(i),
			Wallet:           t.Wallet.Hex(),
			Asset:            t.Asset.Hex(),
			DeltaPips:        t.DeltaInPips,
			BalanceAfterPips: int64(t.BalanceAfterInPips),
		})
	}
	return rec
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// LogWriter writes event and transfer batches using multi-row INSERT.
// ON CONFLICT DO NOTHING makes re-delivery after a crash idempotent: the
// sequence is assigned by the engine, so a duplicate row is always an exact
// duplicate.
type LogWriter struct {
	db *sql.DB
}

func NewLogWriter(db *sql.DB) *LogWriter {
	return &LogWriter{db: db}
}

// WriteEventBatch inserts a batch into settlement.events.
func (w *LogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO settlement.events
		(sequence, event_type, idempotency_key, timestamp_ms, payload, hash, prev_hash)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*7)
	for i, e := range events {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		// Payload goes over the wire as text: the column is JSON (not
		// JSONB) so the stored bytes stay hashable.
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.TimestampMs,
			string(e.Payload), e.Hash, e.PrevHash,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteTransferBatch inserts a batch into settlement.transfers.
func (w *LogWriter) WriteTransferBatch(ctx context.Context, ex execer, transfers []TransferRow) error {
	if len(transfers) == 0 {
		return nil
	}

	query := `INSERT INTO settlement.transfers
		(sequence, position, wallet, asset, delta_pips, balance_after_pips)
		VALUES `

	values := make([]string, 0, len(transfers))
	args := make([]interface{}, 0, len(transfers)*6)
	for i, t := range transfers {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args,
			t.Sequence, t.Position, t.Wallet, t.Asset,
			t.DeltaPips, t.BalanceAfterPips,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence, position) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// LastSequence returns the highest journaled sequence, or 0 when the log is
// empty.
func (w *LogWriter) LastSequence(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM settlement.events`,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last sequence: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}
