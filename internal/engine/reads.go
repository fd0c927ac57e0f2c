package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"SpotLedger/internal/asset"
	"SpotLedger/internal/ledger"
	"SpotLedger/internal/pip"
	"SpotLedger/internal/pool"
)

// Read accessors. Like the mutating calls, these must run on the engine
// loop; the shell exposes them through Loop.Read.

func (e *Engine) BalanceInPipsByAddress(wallet, assetAddress common.Address) uint64 {
	return e.balances.Get(wallet, assetAddress)
}

func (e *Engine) BalanceInPipsBySymbol(wallet common.Address, symbol string, atMs uint64) (uint64, error) {
	a, err := e.assets.BySymbol(symbol, atMs)
	if err != nil {
		return 0, err
	}
	return e.balances.Get(wallet, a.Address), nil
}

func (e *Engine) BalanceInAssetUnitsByAddress(wallet, assetAddress common.Address) (*big.Int, error) {
	a, err := e.assets.ByAddress(assetAddress)
	if err != nil {
		return nil, err
	}
	return pip.PipsToAssetUnits(e.balances.Get(wallet, a.Address), a.Decimals)
}

func (e *Engine) BalanceInAssetUnitsBySymbol(wallet common.Address, symbol string, atMs uint64) (*big.Int, error) {
	a, err := e.assets.BySymbol(symbol, atMs)
	if err != nil {
		return nil, err
	}
	return pip.PipsToAssetUnits(e.balances.Get(wallet, a.Address), a.Decimals)
}

func (e *Engine) AssetByAddress(address common.Address) (asset.Asset, error) {
	return e.assets.ByAddress(address)
}

func (e *Engine) AssetBySymbol(symbol string, atMs uint64) (asset.Asset, error) {
	return e.assets.BySymbol(symbol, atMs)
}

func (e *Engine) ConfirmedAssets() []asset.Asset {
	return e.assets.Confirmed()
}

// PoolByAssets returns a copy of the pool; callers cannot mutate reserves.
func (e *Engine) PoolByAssets(baseAsset, quoteAsset common.Address) (pool.Pool, error) {
	p, err := e.pools.ByAssets(baseAsset, quoteAsset)
	if err != nil {
		return pool.Pool{}, err
	}
	return *p, nil
}

func (e *Engine) Pools() []pool.Pool {
	all := e.pools.All()
	out := make([]pool.Pool, 0, len(all))
	for _, p := range all {
		out = append(out, *p)
	}
	return out
}

// WalletExitStatus reports a wallet's exit standing.
func (e *Engine) WalletExitStatus(wallet common.Address) (exited, finalized bool, effectiveSequence uint64) {
	x := e.walletExits[wallet]
	if !x.exited {
		return false, false, 0
	}
	return true, e.sequence >= x.effectiveSequence, x.effectiveSequence
}

// BalancesSnapshot copies the full balance book.
func (e *Engine) BalancesSnapshot() map[ledger.Key]uint64 {
	return e.balances.Snapshot()
}

func (e *Engine) Dispatcher() common.Address { return e.dispatcher }
func (e *Engine) FeeWallet() common.Address  { return e.feeWallet }
func (e *Engine) Owner() common.Address      { return e.owner }

func (e *Engine) IsAdmin(wallet common.Address) bool { return e.admins[wallet] }

func (e *Engine) ChainPropagationPeriod() uint64 { return e.chainPropagationPeriod }

// DepositsEnabled reports whether the one-time deposit index has been set.
func (e *Engine) DepositsEnabled() bool { return e.depositIndex != nil }
