// Package asset tracks the set of tokens the ledger settles. Registration is
// a two-step flow: an admin registers a token's address, symbol, and decimals,
// then a second call confirms the exact same triple before the token becomes
// usable. Symbols may be reassigned over time, so symbol lookups are resolved
// against the history as of a caller-supplied timestamp.
package asset

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"SpotLedger/internal/pip"
)

// NativeAddress is the sentinel address representing the chain's native,
// untokenized currency. It is always registered, confirmed, and 18 decimals.
var NativeAddress = common.Address{}

// NativeDecimals is the precision of the native currency.
const NativeDecimals uint8 = 18

var (
	ErrUnknownAsset               = errors.New("no confirmed asset found for address")
	ErrUnknownSymbol              = errors.New("no confirmed asset found for symbol")
	ErrAlreadyRegistered          = errors.New("registration already finalized")
	ErrNotRegistered              = errors.New("unknown registration")
	ErrConfirmationMismatch       = errors.New("symbol does not match registration")
	ErrDecimalsMismatch           = errors.New("decimals do not match registration")
	ErrNotConfirmed               = errors.New("registration not finalized")
	ErrNativeAssetNotRegisterable = errors.New("native asset cannot be registered")
)

// Asset describes one registered token.
type Asset struct {
	Address     common.Address
	Symbol      string
	Decimals    uint8
	IsConfirmed bool
}

// symbolAssignment records one point-in-time binding of a symbol to a token
// address. Assignments for a symbol are appended in timestamp order.
type symbolAssignment struct {
	Address      common.Address
	AssignedAtMs uint64
}

// Registry is the in-memory asset book. It is owned by the engine loop and is
// not safe for concurrent mutation.
type Registry struct {
	nativeSymbol string
	byAddress    map[common.Address]Asset
	bySymbol     map[string][]symbolAssignment
}

func NewRegistry(nativeSymbol string) *Registry {
	return &Registry{
		nativeSymbol: nativeSymbol,
		byAddress:    make(map[common.Address]Asset),
		bySymbol:     make(map[string][]symbolAssignment),
	}
}

// NativeSymbol returns the symbol of the native currency, e.g. "ETH".
func (r *Registry) NativeSymbol() string {
	return r.nativeSymbol
}

// Register records a pending registration for a token. Re-registering an
// unconfirmed token overwrites the pending entry; a confirmed token can never
// be re-registered.
func (r *Registry) Register(address common.Address, symbol string, decimals uint8) error {
	if address == NativeAddress {
		return ErrNativeAssetNotRegisterable
	}
	if decimals > pip.MaxDecimals {
		return pip.ErrInvalidDecimals
	}
	if symbol == "" {
		return errors.New("invalid token symbol")
	}
	if existing, ok := r.byAddress[address]; ok && existing.IsConfirmed {
		return ErrAlreadyRegistered
	}
	r.byAddress[address] = Asset{
		Address:  address,
		Symbol:   symbol,
		Decimals: decimals,
	}
	return nil
}

// Confirm finalizes a pending registration. The confirming symbol and
// decimals must match the registered values exactly; the double entry guards
// against registering a token under a mistyped symbol or precision.
func (r *Registry) Confirm(address common.Address, symbol string, decimals uint8, nowMs uint64) error {
	pending, ok := r.byAddress[address]
	if !ok {
		return ErrNotRegistered
	}
	if pending.IsConfirmed {
		return ErrAlreadyRegistered
	}
	if pending.Symbol != symbol {
		return ErrConfirmationMismatch
	}
	if pending.Decimals != decimals {
		return ErrDecimalsMismatch
	}
	pending.IsConfirmed = true
	r.byAddress[address] = pending
	r.bySymbol[symbol] = append(r.bySymbol[symbol], symbolAssignment{
		Address:      address,
		AssignedAtMs: nowMs,
	})
	return nil
}

// AddSymbol assigns an additional symbol to an already confirmed token. The
// native symbol is reserved and cannot be reassigned to a token.
func (r *Registry) AddSymbol(address common.Address, symbol string, nowMs uint64) error {
	confirmed, ok := r.byAddress[address]
	if !ok || !confirmed.IsConfirmed {
		return ErrNotConfirmed
	}
	if symbol == "" || symbol == r.nativeSymbol {
		return errors.New("invalid token symbol")
	}
	r.bySymbol[symbol] = append(r.bySymbol[symbol], symbolAssignment{
		Address:      address,
		AssignedAtMs: nowMs,
	})
	return nil
}

// ByAddress resolves an asset by token address. The zero address resolves to
// the native currency.
func (r *Registry) ByAddress(address common.Address) (Asset, error) {
	if address == NativeAddress {
		return Asset{
			Address:     NativeAddress,
			Symbol:      r.nativeSymbol,
			Decimals:    NativeDecimals,
			IsConfirmed: true,
		}, nil
	}
	a, ok := r.byAddress[address]
	if !ok || !a.IsConfirmed {
		return Asset{}, ErrUnknownAsset
	}
	return a, nil
}

// BySymbol resolves a symbol to the asset it referred to at timestampMs. A
// symbol reassigned after that instant resolves to its earlier binding, which
// keeps orders signed before a reassignment settling against the intended
// token.
func (r *Registry) BySymbol(symbol string, timestampMs uint64) (Asset, error) {
	if symbol == r.nativeSymbol {
		return r.ByAddress(NativeAddress)
	}
	assignments := r.bySymbol[symbol]
	for i := len(assignments) - 1; i >= 0; i-- {
		if assignments[i].AssignedAtMs <= timestampMs {
			return r.ByAddress(assignments[i].Address)
		}
	}
	return Asset{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
}

// Pending returns the unconfirmed registration for an address, if any. Used
// by the query surface to show in-flight registrations.
func (r *Registry) Pending(address common.Address) (Asset, bool) {
	a, ok := r.byAddress[address]
	if !ok || a.IsConfirmed {
		return Asset{}, false
	}
	return a, true
}

// Confirmed returns every confirmed asset, native currency included.
func (r *Registry) Confirmed() []Asset {
	native, _ := r.ByAddress(NativeAddress)
	out := []Asset{native}
	for _, a := range r.byAddress {
		if a.IsConfirmed {
			out = append(out, a)
		}
	}
	return out
}
