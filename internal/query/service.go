// Package query serves read-only views over the Postgres projections and
// the settlement event log. Responses carry asOfSequence so callers can
// reason about freshness relative to the engine's live sequence.
package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"SpotLedger/internal/observability"
	"SpotLedger/internal/pip"
)

// Service reads projection tables and the event log.
type Service struct {
	log     zerolog.Logger
	db      *sql.DB
	metrics *observability.Metrics
}

func NewService(db *sql.DB, metrics *observability.Metrics, log zerolog.Logger) *Service {
	return &Service{
		log:     log.With().Str("component", "query").Logger(),
		db:      db,
		metrics: metrics,
	}
}

// Balance returns the projected balance for one wallet/asset, zero when no
// transfer has touched the pair yet.
func (s *Service) Balance(ctx context.Context, wallet, asset string) (*BalanceResponse, error) {
	defer s.observe("balance", time.Now())

	asOf, err := s.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var pips, lastSeq int64
	err = s.db.QueryRowContext(ctx, `
		SELECT balance_pips, last_sequence
		FROM projections.balances
		WHERE wallet = $1 AND asset = $2
	`, wallet, asset).Scan(&pips, &lastSeq)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	return &BalanceResponse{
		Wallet:       wallet,
		Asset:        asset,
		Quantity:     FormatPips(pips),
		QuantityPips: pips,
		AsOfSequence: asOf,
	}, nil
}

// Balances returns every non-zero projected balance for a wallet.
func (s *Service) Balances(ctx context.Context, wallet string) ([]BalanceResponse, error) {
	defer s.observe("balances", time.Now())

	asOf, err := s.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT asset, balance_pips
		FROM projections.balances
		WHERE wallet = $1 AND balance_pips > 0
		ORDER BY asset
	`, wallet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BalanceResponse
	for rows.Next() {
		var b BalanceResponse
		b.Wallet = wallet
		b.AsOfSequence = asOf
		if err := rows.Scan(&b.Asset, &b.QuantityPips); err != nil {
			return nil, err
		}
		b.Quantity = FormatPips(b.QuantityPips)
		out = append(out, b)
	}
	return out, rows.Err()
}

// Transfers returns a wallet's journaled balance deltas, newest first, with
// cursor pagination on sequence.
func (s *Service) Transfers(ctx context.Context, wallet string, limit int, beforeSequence *int64) ([]TransferResponse, error) {
	defer s.observe("transfers", time.Now())

	query := `
		SELECT t.sequence, e.event_type, t.asset, t.delta_pips, t.balance_after_pips, e.timestamp_ms
		FROM settlement.transfers t
		JOIN settlement.events e ON e.sequence = t.sequence
		WHERE t.wallet = $1
	`
	args := []interface{}{wallet}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND t.sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY t.sequence DESC, t.position DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransferResponse
	for rows.Next() {
		var t TransferResponse
		var after int64
		if err := rows.Scan(&t.Sequence, &t.EventType, &t.Asset, &t.DeltaPips, &after, &t.TimestampMs); err != nil {
			return nil, err
		}
		t.Delta = FormatPips(t.DeltaPips)
		t.BalanceAfter = FormatPips(after)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Events returns event log entries in sequence order, for audit consumers
// paging forward from a known sequence.
func (s *Service) Events(ctx context.Context, afterSequence int64, limit int) ([]EventResponse, error) {
	defer s.observe("events", time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, timestamp_ms, payload, hash, prev_hash
		FROM settlement.events
		WHERE sequence > $1
		ORDER BY sequence ASC
		LIMIT $2
	`, afterSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventResponse
	for rows.Next() {
		var e EventResponse
		var hash, prevHash []byte
		if err := rows.Scan(&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.TimestampMs, &e.Payload, &hash, &prevHash); err != nil {
			return nil, err
		}
		e.Hash = hex.EncodeToString(hash)
		e.PrevHash = hex.EncodeToString(prevHash)
		out = append(out, e)
	}
	return out, rows.Err()
}

// VerifyIntegrity checks the journaled hash chain and sequence continuity.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	defer s.observe("verify_integrity", time.Now())

	report := &IntegrityReport{}

	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) FROM settlement.events
	`).Scan(&report.LastSequence)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.sequence
		FROM settlement.events e
		JOIN settlement.events p ON p.sequence = e.sequence - 1
		WHERE e.prev_hash != p.hash
		ORDER BY e.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	gapRows, err := s.db.QueryContext(ctx, `
		SELECT e.sequence
		FROM settlement.events e
		LEFT JOIN settlement.events p ON p.sequence = e.sequence - 1
		WHERE e.sequence > 1 AND p.sequence IS NULL
		ORDER BY e.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer gapRows.Close()
	for gapRows.Next() {
		var seq int64
		if err := gapRows.Scan(&seq); err != nil {
			return nil, err
		}
		report.SequenceGaps = append(report.SequenceGaps, seq)
	}
	if err := gapRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.SequenceGaps) == 0
	return report, nil
}

func (s *Service) watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'balances'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (s *Service) observe(endpoint string, start time.Time) {
	if s.metrics != nil {
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

// FormatPips renders a signed pip quantity as a decimal string.
func FormatPips(pips int64) string {
	return decimal.New(pips, -int32(pip.Decimals)).StringFixed(int32(pip.Decimals))
}
