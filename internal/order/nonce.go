package order

import (
	"encoding/binary"
	"errors"

	"github.com/google/uuid"
)

// gregorianToUnix100ns is the count of 100ns intervals between the UUIDv1
// epoch (1582-10-15) and the Unix epoch.
const gregorianToUnix100ns = 122192928000000000

var (
	ErrNonceNotV1        = errors.New("nonce must be a version 1 UUID")
	ErrNoncePredatesUnix = errors.New("nonce timestamp predates unix epoch")
)

// NonceTimestampMs extracts the embedded creation time of a version 1 UUID
// nonce as Unix milliseconds. The 60-bit timestamp is reassembled from the
// wire layout directly rather than through library accessors, because the
// result participates in consensus-critical checks (symbol resolution and
// nonce invalidation cutoffs) and must not drift with library versions.
func NonceTimestampMs(nonce uuid.UUID) (uint64, error) {
	timeLow := uint64(binary.BigEndian.Uint32(nonce[0:4]))
	timeMid := uint64(binary.BigEndian.Uint16(nonce[4:6]))
	timeHiAndVersion := uint64(binary.BigEndian.Uint16(nonce[6:8]))

	if version := timeHiAndVersion >> 12; version != 1 {
		return 0, ErrNonceNotV1
	}

	ticks := (timeHiAndVersion&0x0fff)<<48 | timeMid<<32 | timeLow
	if ticks < gregorianToUnix100ns {
		return 0, ErrNoncePredatesUnix
	}
	return (ticks - gregorianToUnix100ns) / 10000, nil
}
