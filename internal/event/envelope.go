// Package event defines the settlement event log: one typed event per applied
// state mutation, wrapped in an envelope that carries ordering, idempotency,
// and hash-chain integrity metadata. The log is the system of record; the
// balance book and every projection can be rebuilt from it.
package event

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Type discriminator for event payloads.
type Type int32

const (
	TypeUnknown Type = iota
	TypeTokenRegistered
	TypeTokenConfirmed
	TypeTokenSymbolAdded
	TypeDeposited
	TypeWithdrawn
	TypeOrderNonceInvalidated
	TypeTradeExecuted
	TypePoolTradeExecuted
	TypeHybridTradeExecuted
	TypePoolPromoted
	TypeLiquidityAdditionIntended
	TypeLiquidityRemovalIntended
	TypeLiquidityAdded
	TypeLiquidityRemoved
	TypeLiquidityRemovedForExit
	TypeWalletExited
	TypeWalletExitWithdrawn
	TypeWalletExitCleared
	TypeGovernanceChanged
)

// Envelope wraps every event in the log.
type Envelope struct {
	// Global monotonic sequence assigned by the engine; doubles as the
	// block number for exit-delay arithmetic.
	Sequence uint64 `json:"sequence"`

	// Stable dedup key derived from the event content (trade hash,
	// withdrawal hash, deposit index, ...).
	IdempotencyKey string `json:"idempotencyKey"`

	// Event type discriminator.
	EventType Type `json:"eventType"`

	// Versioned input timestamp in Unix ms (NOT wall-clock at apply time).
	TimestampMs uint64 `json:"timestampMs"`

	// JSON-encoded event-specific payload.
	Payload []byte `json:"payload"`

	// SHA-256 over (PrevHash, Sequence, EventType, Payload).
	Hash [32]byte `json:"hash"`

	// Previous envelope's hash (chain integrity).
	PrevHash [32]byte `json:"prevHash"`
}

// Event is the interface all payloads implement.
type Event interface {
	// IdempotencyKey returns the stable dedup key.
	IdempotencyKey() string

	// EventType returns the discriminator.
	EventType() Type
}

// Seal encodes the payload and computes the chained hash, producing the
// envelope that gets persisted and published.
func Seal(e Event, sequence, timestampMs uint64, prevHash [32]byte) (Envelope, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", e.EventType(), err)
	}
	env := Envelope{
		Sequence:       sequence,
		IdempotencyKey: e.IdempotencyKey(),
		EventType:      e.EventType(),
		TimestampMs:    timestampMs,
		Payload:        payload,
		PrevHash:       prevHash,
	}
	env.Hash = env.computeHash()
	return env, nil
}

// Verify recomputes the chained hash against the stored one. Used during
// replay to detect log tampering or corruption.
func (env *Envelope) Verify(prevHash [32]byte) error {
	if env.PrevHash != prevHash {
		return fmt.Errorf("event %d: prev hash mismatch", env.Sequence)
	}
	if env.computeHash() != env.Hash {
		return fmt.Errorf("event %d: hash mismatch", env.Sequence)
	}
	return nil
}

func (env *Envelope) computeHash() [32]byte {
	h := sha256.New()
	h.Write(env.PrevHash[:])
	var seq [8]byte
	for i := 0; i < 8; i++ {
		seq[i] = byte(env.Sequence >> (56 - 8*i))
	}
	h.Write(seq[:])
	fmt.Fprintf(h, "%d", env.EventType)
	h.Write(env.Payload)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Decode unmarshals the payload into the concrete event for the envelope's
// type.
func (env *Envelope) Decode() (Event, error) {
	e := newEvent(env.EventType)
	if e == nil {
		return nil, fmt.Errorf("unknown event type %d", env.EventType)
	}
	if err := json.Unmarshal(env.Payload, e); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.EventType, err)
	}
	return e, nil
}

// ParseType maps a stored type name back to its discriminator. Used when
// rehydrating envelopes from the journal, where the type is stored by name.
func ParseType(s string) (Type, error) {
	for t := TypeTokenRegistered; t <= TypeGovernanceChanged; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("unknown event type %q", s)
}

func (t Type) String() string {
	switch t {
	case TypeTokenRegistered:
		return "TokenRegistered"
	case TypeTokenConfirmed:
		return "TokenConfirmed"
	case TypeTokenSymbolAdded:
		return "TokenSymbolAdded"
	case TypeDeposited:
		return "Deposited"
	case TypeWithdrawn:
		return "Withdrawn"
	case TypeOrderNonceInvalidated:
		return "OrderNonceInvalidated"
	case TypeTradeExecuted:
		return "TradeExecuted"
	case TypePoolTradeExecuted:
		return "PoolTradeExecuted"
	case TypeHybridTradeExecuted:
		return "HybridTradeExecuted"
	case TypePoolPromoted:
		return "PoolPromoted"
	case TypeLiquidityAdditionIntended:
		return "LiquidityAdditionIntended"
	case TypeLiquidityRemovalIntended:
		return "LiquidityRemovalIntended"
	case TypeLiquidityAdded:
		return "LiquidityAdded"
	case TypeLiquidityRemoved:
		return "LiquidityRemoved"
	case TypeLiquidityRemovedForExit:
		return "LiquidityRemovedForExit"
	case TypeWalletExited:
		return "WalletExited"
	case TypeWalletExitWithdrawn:
		return "WalletExitWithdrawn"
	case TypeWalletExitCleared:
		return "WalletExitCleared"
	case TypeGovernanceChanged:
		return "GovernanceChanged"
	default:
		return "Unknown"
	}
}
