package engine

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"SpotLedger/internal/event"
	"SpotLedger/internal/ledger"
	"SpotLedger/internal/pip"
)

var (
	ErrAlreadyExited     = errors.New("wallet already exited")
	ErrNeverExited       = errors.New("wallet not exited")
	ErrExitNotFinal      = errors.New("exit not yet finalized")
	ErrNoBalanceForAsset = errors.New("no balance for asset")
)

// ExitWallet starts the trust-minimizing exit path for the caller. Deposits
// and dispatcher settlements against the wallet stop immediately; direct
// withdrawal unlocks once chainPropagationPeriod more events have been
// applied, bounding the race against in-flight dispatcher settlements.
func (e *Engine) ExitWallet(tx TxContext) (Output, error) {
	if x := e.walletExits[tx.Caller]; x.exited {
		return Output{}, ErrAlreadyExited
	}
	effective := e.sequence + e.chainPropagationPeriod
	e.walletExits[tx.Caller] = walletExit{exited: true, effectiveSequence: effective}
	if e.metrics != nil {
		e.metrics.WalletExits.Inc()
	}
	return e.seal(&event.WalletExited{
		Wallet:            tx.Caller,
		EffectiveSequence: effective,
	}, tx.TimestampMs, nil)
}

// WithdrawExit sweeps the caller's entire balance in one asset straight
// through the custodian, without dispatcher involvement or a signature.
// Only available once the exit is final.
func (e *Engine) WithdrawExit(tx TxContext, assetAddress common.Address) (Output, error) {
	exited, finalized := e.exitStatus(tx.Caller)
	if !exited {
		return Output{}, ErrNeverExited
	}
	if !finalized {
		return Output{}, ErrExitNotFinal
	}
	if e.custodian == nil {
		return Output{}, errors.New("custodian not set")
	}
	a, err := e.assets.ByAddress(assetAddress)
	if err != nil {
		return Output{}, err
	}

	if e.balances.Get(tx.Caller, a.Address) == 0 {
		return Output{}, ErrNoBalanceForAsset
	}
	quantityInPips, transfer := e.balances.Zero(tx.Caller, a.Address)

	quantityInAssetUnits, err := pip.PipsToAssetUnits(quantityInPips, a.Decimals)
	if err != nil {
		e.balances.Restore(tx.Caller, a.Address, quantityInPips)
		return Output{}, err
	}
	if err := e.custodian.Withdraw(tx.Caller, a.Address, quantityInAssetUnits); err != nil {
		e.balances.Restore(tx.Caller, a.Address, quantityInPips)
		return Output{}, err
	}

	return e.seal(&event.WalletExitWithdrawn{
		Wallet:         tx.Caller,
		Asset:          a.Address,
		QuantityInPips: quantityInPips,
	}, tx.TimestampMs, []ledger.Transfer{transfer})
}

// ClearWalletExit returns the caller to normal standing, re-enabling
// deposits and dispatcher settlement.
func (e *Engine) ClearWalletExit(tx TxContext) (Output, error) {
	if x := e.walletExits[tx.Caller]; !x.exited {
		return Output{}, ErrNeverExited
	}
	delete(e.walletExits, tx.Caller)
	return e.seal(&event.WalletExitCleared{Wallet: tx.Caller}, tx.TimestampMs, nil)
}
