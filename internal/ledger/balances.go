// Package ledger holds the custodied balance book. Every balance is a uint64
// pip quantity keyed by (wallet, asset); the engine loop is the only writer,
// so the book needs no internal locking.
package ledger

import (
	"errors"
	"math"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBalanceOverflow     = errors.New("balance overflows int64 pips")
)

// Key identifies one balance entry.
type Key struct {
	Wallet common.Address
	Asset  common.Address
}

// Transfer records one applied balance mutation. The engine collects the
// transfers of each settlement call into its output for journaling and
// downstream projections.
type Transfer struct {
	Wallet             common.Address `json:"wallet"`
	Asset              common.Address `json:"asset"`
	DeltaInPips        int64          `json:"deltaInPips"`
	BalanceAfterInPips uint64         `json:"balanceAfterInPips"`
}

// Source exposes read access to a predecessor ledger's balances, used to
// migrate a wallet's funds on its first deposit.
type Source interface {
	BalanceInPips(wallet, asset common.Address) uint64
}

// Balances is the in-memory balance book.
type Balances struct {
	held map[Key]uint64
}

func NewBalances() *Balances {
	return &Balances{held: make(map[Key]uint64)}
}

// Get returns a wallet's balance for an asset in pips. Absent entries are
// zero.
func (b *Balances) Get(wallet, assetAddr common.Address) uint64 {
	return b.held[Key{Wallet: wallet, Asset: assetAddr}]
}

// Credit adds quantity pips to a balance. Balances are capped at
// math.MaxInt64 so every delta fits the signed journal column without
// wrapping.
func (b *Balances) Credit(wallet, assetAddr common.Address, quantity uint64) (Transfer, error) {
	k := Key{Wallet: wallet, Asset: assetAddr}
	current := b.held[k]
	if quantity > math.MaxInt64-current {
		return Transfer{}, ErrBalanceOverflow
	}
	b.held[k] = current + quantity
	return Transfer{
		Wallet:             wallet,
		Asset:              assetAddr,
		DeltaInPips:        int64(quantity),
		BalanceAfterInPips: current + quantity,
	}, nil
}

// Debit removes quantity pips from a balance.
func (b *Balances) Debit(wallet, assetAddr common.Address, quantity uint64) (Transfer, error) {
	k := Key{Wallet: wallet, Asset: assetAddr}
	current := b.held[k]
	if quantity > current {
		return Transfer{}, ErrInsufficientBalance
	}
	if current == quantity {
		delete(b.held, k)
	} else {
		b.held[k] = current - quantity
	}
	return Transfer{
		Wallet:             wallet,
		Asset:              assetAddr,
		DeltaInPips:        -int64(quantity),
		BalanceAfterInPips: current - quantity,
	}, nil
}

// Zero empties a balance and returns the quantity removed. Used by the
// wallet-exit paths, which always sweep whole positions.
func (b *Balances) Zero(wallet, assetAddr common.Address) (uint64, Transfer) {
	k := Key{Wallet: wallet, Asset: assetAddr}
	current := b.held[k]
	delete(b.held, k)
	return current, Transfer{
		Wallet:             wallet,
		Asset:              assetAddr,
		DeltaInPips:        -int64(current),
		BalanceAfterInPips: 0,
	}
}

// AssetsOf lists every asset the wallet currently holds, in a stable order.
func (b *Balances) AssetsOf(wallet common.Address) []common.Address {
	var assets []common.Address
	for k := range b.held {
		if k.Wallet == wallet {
			assets = append(assets, k.Asset)
		}
	}
	sort.Slice(assets, func(i, j int) bool {
		return assets[i].Cmp(assets[j]) < 0
	})
	return assets
}

// Snapshot copies the full balance book, for queries and state hashing.
func (b *Balances) Snapshot() map[Key]uint64 {
	out := make(map[Key]uint64, len(b.held))
	for k, v := range b.held {
		out[k] = v
	}
	return out
}

// Restore overwrites one entry, used only during event replay.
func (b *Balances) Restore(wallet, assetAddr common.Address, quantity uint64) {
	k := Key{Wallet: wallet, Asset: assetAddr}
	if quantity == 0 {
		delete(b.held, k)
		return
	}
	b.held[k] = quantity
}
