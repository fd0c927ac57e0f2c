// Package projection folds the settlement output stream into queryable
// Postgres tables. Projections are eventually consistent: the loop sends on
// the projection channel without blocking, dropped outputs are counted, and
// any gap is repaired by rebuilding from the transfer journal.
package projection

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"SpotLedger/internal/engine"
	"SpotLedger/internal/observability"
)

// Worker applies each output's transfers to projections.balances and
// advances the watermark.
type Worker struct {
	log       zerolog.Logger
	db        *sql.DB
	inputChan <-chan engine.Output
	metrics   *observability.Metrics
}

func NewWorker(db *sql.DB, inputChan <-chan engine.Output, metrics *observability.Metrics, log zerolog.Logger) *Worker {
	return &Worker{
		log:       log.With().Str("component", "projection").Logger(),
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run drains the projection channel until ctx is cancelled or the channel
// closes. A failed update is logged and skipped; the rebuild path covers it.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := w.apply(ctx, out); err != nil {
				w.log.Warn().
					Err(err).
					Uint64("sequence", out.Envelope.Sequence).
					Msg("projection update failed")
				continue
			}
			if w.metrics != nil {
				w.metrics.ProjectionUpdateDur.WithLabelValues("balances").
					Observe(time.Since(start).Seconds())
			}
		}
	}
}

func (w *Worker) apply(ctx context.Context, out engine.Output) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq := int64(out.Envelope.Sequence)
	for _, t := range out.Transfers {
		// The engine journals the authoritative post-transfer balance, so
		// the projection sets it absolutely rather than accumulating deltas.
		// Replayed duplicates are naturally idempotent.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (wallet, asset, balance_pips, last_sequence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (wallet, asset)
			DO UPDATE SET balance_pips = $3, last_sequence = $4
			WHERE projections.balances.last_sequence <= $4
		`, t.Wallet.Hex(), t.Asset.Hex(), int64(t.BalanceAfterInPips), seq); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('balances', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, seq); err != nil {
		return err
	}

	return tx.Commit()
}

// Rebuild reconstructs projections.balances from the transfer journal.
// Used at startup when the watermark trails the event log (dropped outputs)
// and by the admin rebuild endpoint.
func Rebuild(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `TRUNCATE projections.balances`); err != nil {
		return err
	}

	// The latest transfer row per (wallet, asset) carries the current
	// balance; no summation needed.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (wallet, asset, balance_pips, last_sequence)
		SELECT DISTINCT ON (wallet, asset)
			wallet, asset, balance_after_pips, sequence
		FROM settlement.transfers
		ORDER BY wallet, asset, sequence DESC, position DESC
	`); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		SELECT 'balances', COALESCE(MAX(sequence), 0), NOW() FROM settlement.events
		ON CONFLICT (worker_id) DO UPDATE
		SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`); err != nil {
		return err
	}

	return tx.Commit()
}
