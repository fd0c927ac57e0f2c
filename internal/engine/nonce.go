package engine

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"SpotLedger/internal/event"
	"SpotLedger/internal/order"
)

var (
	ErrNonceInFuture           = errors.New("nonce timestamp too far in future")
	ErrInvalidationPropagating = errors.New("previous invalidation awaiting chain propagation")
	ErrAlreadyInvalidated      = errors.New("nonce timestamp already invalidated")
	ErrOrderNonceInvalidated   = errors.New("order nonce timestamp invalidated")
)

// InvalidateOrderNonce raises the caller's replay-protection cutoff: once
// the propagation delay elapses, no order with a nonce at or before the
// given timestamp will settle. The delay gives already-submitted orders a
// bounded window to land before the cutoff takes effect.
func (e *Engine) InvalidateOrderNonce(tx TxContext, nonce uuid.UUID) (Output, error) {
	tsMs, err := order.NonceTimestampMs(nonce)
	if err != nil {
		return Output{}, err
	}
	if tsMs > tx.TimestampMs+maxNonceFutureDriftMs {
		return Output{}, ErrNonceInFuture
	}

	if current, ok := e.nonceInvalidations[tx.Caller]; ok {
		if e.sequence < current.effectiveSequence {
			return Output{}, ErrInvalidationPropagating
		}
		if tsMs <= current.timestampMs {
			return Output{}, ErrAlreadyInvalidated
		}
	}

	effective := e.sequence + e.chainPropagationPeriod
	e.nonceInvalidations[tx.Caller] = nonceInvalidation{
		timestampMs:       tsMs,
		effectiveSequence: effective,
	}
	return e.seal(&event.OrderNonceInvalidated{
		Wallet:            tx.Caller,
		Nonce:             nonce,
		TimestampMs:       tsMs,
		EffectiveSequence: effective,
	}, tx.TimestampMs, nil)
}

// checkNonce enforces a wallet's effective invalidation cutoff against an
// order nonce and returns the nonce's embedded timestamp.
func (e *Engine) checkNonce(wallet common.Address, nonce uuid.UUID) (uint64, error) {
	tsMs, err := order.NonceTimestampMs(nonce)
	if err != nil {
		return 0, err
	}
	if inv, ok := e.nonceInvalidations[wallet]; ok {
		if e.sequence >= inv.effectiveSequence && tsMs <= inv.timestampMs {
			return 0, ErrOrderNonceInvalidated
		}
	}
	return tsMs, nil
}
