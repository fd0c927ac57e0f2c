package persistence

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"SpotLedger/internal/testutil"
)

func setupLog(t *testing.T) (*LogWriter, context.Context, func()) {
	t.Helper()
	db, cleanup := testutil.SetupTestDB(t)

	ctx := context.Background()
	if err := NewMigrator(db, "../../migrations", zerolog.Nop()).Up(ctx); err != nil {
		cleanup()
		t.Fatalf("migrate up: %v", err)
	}
	return NewLogWriter(db), ctx, cleanup
}

func testEventRow(sequence int64) EventRow {
	hash := make([]byte, 32)
	prev := make([]byte, 32)
	hash[0] = byte(sequence)
	if sequence > 1 {
		prev[0] = byte(sequence - 1)
	}
	return EventRow{
		Sequence:       sequence,
		EventType:      "deposited",
		IdempotencyKey: fmt.Sprintf("key-%d", sequence),
		TimestampMs:    1700000000000 + sequence,
		Payload:        []byte(`{}`),
		Hash:           hash,
		PrevHash:       prev,
	}
}

func TestWriteEventBatchIsIdempotent(t *testing.T) {
	w, ctx, cleanup := setupLog(t)
	defer cleanup()

	batch := []EventRow{testEventRow(1), testEventRow(2)}
	if err := w.WriteEventBatch(ctx, w.db, batch); err != nil {
		t.Fatalf("first write: %v", err)
	}

	// Redelivery after a crash writes the same rows again.
	if err := w.WriteEventBatch(ctx, w.db, batch); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	var count int
	if err := w.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM settlement.events`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("event count = %d, want 2", count)
	}

	last, err := w.LastSequence(ctx)
	if err != nil {
		t.Fatalf("LastSequence: %v", err)
	}
	if last != 2 {
		t.Errorf("LastSequence = %d, want 2", last)
	}
}

func TestLastSequenceOnEmptyLog(t *testing.T) {
	w, ctx, cleanup := setupLog(t)
	defer cleanup()

	last, err := w.LastSequence(ctx)
	if err != nil {
		t.Fatalf("LastSequence: %v", err)
	}
	if last != 0 {
		t.Errorf("LastSequence = %d, want 0 on empty log", last)
	}
}

func TestWriteTransferBatchKeepsPositions(t *testing.T) {
	w, ctx, cleanup := setupLog(t)
	defer cleanup()

	if err := w.WriteEventBatch(ctx, w.db, []EventRow{testEventRow(1)}); err != nil {
		t.Fatalf("write event: %v", err)
	}

	transfers := []TransferRow{
		{Sequence: 1, Position: 0, Wallet: "0xaa", Asset: "0x00", DeltaPips: -500, BalanceAfterPips: 100},
		{Sequence: 1, Position: 1, Wallet: "0xbb", Asset: "0x00", DeltaPips: 500, BalanceAfterPips: 500},
	}
	if err := w.WriteTransferBatch(ctx, w.db, transfers); err != nil {
		t.Fatalf("write transfers: %v", err)
	}
	if err := w.WriteTransferBatch(ctx, w.db, transfers); err != nil {
		t.Fatalf("rewrite transfers: %v", err)
	}

	rows, err := w.db.QueryContext(ctx,
		`SELECT position, wallet, delta_pips FROM settlement.transfers WHERE sequence = 1 ORDER BY position`)
	if err != nil {
		t.Fatalf("query transfers: %v", err)
	}
	defer rows.Close()

	var got []TransferRow
	for rows.Next() {
		var tr TransferRow
		if err := rows.Scan(&tr.Position, &tr.Wallet, &tr.DeltaPips); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, tr)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("transfer count = %d, want 2", len(got))
	}
	if got[0].Wallet != "0xaa" || got[0].DeltaPips != -500 {
		t.Errorf("position 0 = %+v, want wallet 0xaa delta -500", got[0])
	}
	if got[1].Wallet != "0xbb" || got[1].DeltaPips != 500 {
		t.Errorf("position 1 = %+v, want wallet 0xbb delta 500", got[1])
	}
}

func TestMigratorUpIsRepeatable(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	m := NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := m.Up(ctx); err != nil {
		t.Fatalf("first up: %v", err)
	}
	if err := m.Up(ctx); err != nil {
		t.Fatalf("second up: %v", err)
	}
}
