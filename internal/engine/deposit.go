package engine

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"SpotLedger/internal/asset"
	"SpotLedger/internal/event"
	"SpotLedger/internal/ledger"
	"SpotLedger/internal/pip"
)

var (
	ErrDepositsNotEnabled     = errors.New("deposits not enabled")
	ErrDepositBelowMinimum    = errors.New("quantity is too low")
	ErrUseNativeDepositPath   = errors.New("use the native deposit path")
	ErrUseTokenDepositPath    = errors.New("use the token deposit path")
	ErrReceivedAmountMismatch = errors.New("transferFrom success without expected balance change")
)

// DepositNative credits the caller with native currency already delivered to
// the custodian by the host chain.
func (e *Engine) DepositNative(tx TxContext, quantityInAssetUnits *big.Int) (Output, error) {
	native, _ := e.assets.ByAddress(asset.NativeAddress)
	return e.deposit(tx, native, quantityInAssetUnits, false)
}

// DepositTokenBySymbol pulls tokens from the caller into custody, resolving
// the symbol as of the call timestamp.
func (e *Engine) DepositTokenBySymbol(tx TxContext, symbol string, quantityInAssetUnits *big.Int) (Output, error) {
	if symbol == e.assets.NativeSymbol() {
		return Output{}, ErrUseNativeDepositPath
	}
	a, err := e.assets.BySymbol(symbol, tx.TimestampMs)
	if err != nil {
		return Output{}, err
	}
	return e.deposit(tx, a, quantityInAssetUnits, true)
}

// DepositTokenByAddress pulls tokens from the caller into custody by
// contract address.
func (e *Engine) DepositTokenByAddress(tx TxContext, tokenAddress common.Address, quantityInAssetUnits *big.Int) (Output, error) {
	if tokenAddress == asset.NativeAddress {
		return Output{}, ErrUseNativeDepositPath
	}
	a, err := e.assets.ByAddress(tokenAddress)
	if err != nil {
		return Output{}, err
	}
	return e.deposit(tx, a, quantityInAssetUnits, true)
}

func (e *Engine) deposit(tx TxContext, a asset.Asset, quantityInAssetUnits *big.Int, isToken bool) (Output, error) {
	if e.depositIndex == nil {
		return Output{}, ErrDepositsNotEnabled
	}
	if err := e.requireNotExited(tx.Caller); err != nil {
		return Output{}, err
	}
	if e.custodian == nil {
		return Output{}, errors.New("custodian not set")
	}

	quantityInPips, err := pip.AssetUnitsToPips(quantityInAssetUnits, a.Decimals)
	if err != nil {
		return Output{}, err
	}
	if quantityInPips < e.minimumDepositInPips {
		return Output{}, ErrDepositBelowMinimum
	}

	// Sub-pip dust never enters custody: only the pip-truncated quantity is
	// pulled from the wallet.
	truncatedInAssetUnits, err := pip.PipsToAssetUnits(quantityInPips, a.Decimals)
	if err != nil {
		return Output{}, err
	}

	// One-time predecessor-ledger migration, folded into the first deposit.
	// migratedHere tracks whether THIS call consumed the migration read, so
	// a rollback never un-marks a wallet migrated by an earlier deposit.
	var migratedInPips uint64
	migratedHere := false
	if e.migrationSource != nil && !e.migratedWallets[tx.Caller] {
		migratedInPips = e.migrationSource.BalanceInPips(tx.Caller, a.Address)
		migratedHere = true
	}

	transfers := make([]ledger.Transfer, 0, 1)
	t, err := e.balances.Credit(tx.Caller, a.Address, quantityInPips+migratedInPips)
	if err != nil {
		return Output{}, err
	}
	transfers = append(transfers, t)
	if migratedHere {
		e.migratedWallets[tx.Caller] = true
	}
	*e.depositIndex++

	// Ledger state is final before the external transfer runs; a reentrant
	// token cannot observe a half-applied deposit. A failed or skimming
	// transfer still unwinds the credit before returning.
	if isToken {
		if err := e.pullToken(tx.Caller, a, truncatedInAssetUnits); err != nil {
			e.balances.Debit(tx.Caller, a.Address, quantityInPips+migratedInPips)
			if migratedHere {
				delete(e.migratedWallets, tx.Caller)
			}
			*e.depositIndex--
			return Output{}, err
		}
	}

	if e.metrics != nil {
		e.metrics.DepositsAccepted.Inc()
	}
	return e.seal(&event.Deposited{
		Index:                  *e.depositIndex,
		Wallet:                 tx.Caller,
		Asset:                  a.Address,
		Symbol:                 a.Symbol,
		QuantityInPips:         quantityInPips,
		MigratedQuantityInPips: migratedInPips,
	}, tx.TimestampMs, transfers)
}

// pullToken executes the transferFrom and verifies the custodian received
// exactly the requested quantity, rejecting fee-on-transfer tokens.
func (e *Engine) pullToken(from common.Address, a asset.Asset, quantityInAssetUnits *big.Int) error {
	token, err := e.tokens.Token(a.Address)
	if err != nil {
		return fmt.Errorf("bind token %s: %w", a.Address.Hex(), err)
	}
	custody := e.custodian.Address()
	before, err := token.BalanceOf(custody)
	if err != nil {
		return fmt.Errorf("read custodian balance: %w", err)
	}
	if err := token.TransferFrom(from, custody, quantityInAssetUnits); err != nil {
		return fmt.Errorf("transferFrom: %w", err)
	}
	after, err := token.BalanceOf(custody)
	if err != nil {
		return fmt.Errorf("read custodian balance: %w", err)
	}
	received := new(big.Int).Sub(after, before)
	if received.Cmp(quantityInAssetUnits) != 0 {
		return ErrReceivedAmountMismatch
	}
	return nil
}
