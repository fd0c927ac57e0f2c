package persistence

import (
	"context"
	"database/sql"
	"time"
)

// IdempotencyChecker answers whether a settlement instruction was already
// journaled. The engine dedups authoritatively from its in-memory settled
// set; this check lets ingestion ACK redelivered messages without a round
// trip through the loop.
type IdempotencyChecker struct {
	db *sql.DB
}

func NewIdempotencyChecker(db *sql.DB) *IdempotencyChecker {
	return &IdempotencyChecker{db: db}
}

// IsDuplicate reports whether an event with this idempotency key is already
// in the journal.
func (ic *IdempotencyChecker) IsDuplicate(idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var exists int
	err := ic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM settlement.events
		WHERE idempotency_key = $1
		LIMIT 1
	`, idempotencyKey).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
