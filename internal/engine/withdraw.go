package engine

import (
	"errors"

	"SpotLedger/internal/asset"
	"SpotLedger/internal/event"
	"SpotLedger/internal/ledger"
	"SpotLedger/internal/order"
	"SpotLedger/internal/pip"
)

var (
	ErrWithdrawalAlreadySettled = errors.New("hash already withdrawn")
	ErrExcessiveWithdrawalFee   = errors.New("excessive withdrawal fee")
	ErrInvalidWithdrawalSigner  = errors.New("invalid wallet signature")
)

// Withdraw settles a wallet-signed withdrawal. Dispatcher only. The gas fee
// compensates the operator for the release transaction and is capped at 20%
// of the gross quantity; the net remainder is released through the
// custodian.
func (e *Engine) Withdraw(tx TxContext, w order.Withdrawal) (Output, error) {
	if err := e.requireDispatcher(tx); err != nil {
		return Output{}, err
	}
	if e.custodian == nil {
		return Output{}, errors.New("custodian not set")
	}

	hash := w.Hash()
	if e.settledHashes[hash] {
		return Output{}, ErrWithdrawalAlreadySettled
	}
	signer, err := e.verifier.RecoverSigner(hash, w.Signature)
	if err != nil {
		return Output{}, err
	}
	if signer != w.Wallet {
		return Output{}, ErrInvalidWithdrawalSigner
	}

	nonceTsMs, err := order.NonceTimestampMs(w.Nonce)
	if err != nil {
		return Output{}, err
	}

	var a asset.Asset
	if w.ByAddress {
		a, err = e.assets.ByAddress(w.AssetAddress)
	} else {
		a, err = e.assets.BySymbol(w.AssetSymbol, nonceTsMs)
	}
	if err != nil {
		return Output{}, err
	}

	maxFeeInPips, err := pip.MultiplyFraction(w.GrossQuantityInPips, maxFeeBasisPoints, 10000)
	if err != nil {
		return Output{}, err
	}
	if w.GasFeeInPips > maxFeeInPips {
		return Output{}, ErrExcessiveWithdrawalFee
	}
	netInPips := w.GrossQuantityInPips - w.GasFeeInPips

	if e.balances.Get(w.Wallet, a.Address) < w.GrossQuantityInPips {
		return Output{}, ledger.ErrInsufficientBalance
	}

	transfers := make([]ledger.Transfer, 0, 2)
	t, err := e.balances.Debit(w.Wallet, a.Address, w.GrossQuantityInPips)
	if err != nil {
		return Output{}, err
	}
	transfers = append(transfers, t)
	if w.GasFeeInPips > 0 {
		t, err = e.balances.Credit(e.feeWallet, a.Address, w.GasFeeInPips)
		if err != nil {
			e.balances.Credit(w.Wallet, a.Address, w.GrossQuantityInPips)
			return Output{}, err
		}
		transfers = append(transfers, t)
	}
	e.settledHashes[hash] = true

	netInAssetUnits, err := pip.PipsToAssetUnits(netInPips, a.Decimals)
	if err != nil {
		return Output{}, err
	}
	// Custody release happens strictly after the ledger is settled.
	if err := e.custodian.Withdraw(w.Wallet, a.Address, netInAssetUnits); err != nil {
		delete(e.settledHashes, hash)
		if w.GasFeeInPips > 0 {
			e.balances.Debit(e.feeWallet, a.Address, w.GasFeeInPips)
		}
		e.balances.Credit(w.Wallet, a.Address, w.GrossQuantityInPips)
		return Output{}, err
	}

	if e.metrics != nil {
		e.metrics.WithdrawalsSettled.Inc()
	}
	return e.seal(&event.Withdrawn{
		WithdrawalHash:      hash,
		Wallet:              w.Wallet,
		Asset:               a.Address,
		Symbol:              a.Symbol,
		GrossQuantityInPips: w.GrossQuantityInPips,
		GasFeeInPips:        w.GasFeeInPips,
		NetQuantityInPips:   netInPips,
	}, tx.TimestampMs, transfers)
}
