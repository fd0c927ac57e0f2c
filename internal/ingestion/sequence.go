package ingestion

import (
	"fmt"
)

// SequenceValidator tracks the dispatcher's source sequence per partition.
// Partitions are independently ordered streams (one per market for trades,
// one per wallet for withdrawals); a gap within a partition means a message
// was lost or delivered early and must be redelivered in order.
// Not thread-safe; owned by the single processor goroutine.
type SequenceValidator struct {
	expectedNextSeq map[string]int64
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
	}
}

// Validate checks one instruction's position in its partition. A sequence
// below the expected one is a redelivery: stale is returned true and the
// instruction should still be submitted, because the engine dedups it
// idempotently. A sequence above the expected one is a gap and an error.
// Zero source sequences opt out of ordering (admin and backfill paths).
func (sv *SequenceValidator) Validate(partition string, sourceSequence int64) (stale bool, err error) {
	if sourceSequence == 0 {
		return false, nil
	}

	expected, seen := sv.expectedNextSeq[partition]
	if !seen {
		// First message of the partition fixes the origin.
		sv.expectedNextSeq[partition] = sourceSequence + 1
		return false, nil
	}

	switch {
	case sourceSequence < expected:
		return true, nil
	case sourceSequence == expected:
		sv.expectedNextSeq[partition] = expected + 1
		return false, nil
	default:
		return false, fmt.Errorf("sequence gap: partition=%s expected=%d got=%d",
			partition, expected, sourceSequence)
	}
}

// ExpectedSequence returns the next expected sequence for a partition.
func (sv *SequenceValidator) ExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}
