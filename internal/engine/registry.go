package engine

import (
	"github.com/ethereum/go-ethereum/common"

	"SpotLedger/internal/event"
)

// RegisterToken records a pending token registration. Admin only; the
// confirmation step re-checks symbol and decimals before the token becomes
// depositable.
func (e *Engine) RegisterToken(tx TxContext, tokenAddress common.Address, symbol string, decimals uint8) (Output, error) {
	if err := e.requireAdmin(tx); err != nil {
		return Output{}, err
	}
	if err := e.assets.Register(tokenAddress, symbol, decimals); err != nil {
		return Output{}, err
	}
	return e.seal(&event.TokenRegistered{
		Address:  tokenAddress,
		Symbol:   symbol,
		Decimals: decimals,
	}, tx.TimestampMs, nil)
}

// ConfirmTokenRegistration finalizes a registration. Admin only.
func (e *Engine) ConfirmTokenRegistration(tx TxContext, tokenAddress common.Address, symbol string, decimals uint8) (Output, error) {
	if err := e.requireAdmin(tx); err != nil {
		return Output{}, err
	}
	if err := e.assets.Confirm(tokenAddress, symbol, decimals, tx.TimestampMs); err != nil {
		return Output{}, err
	}
	return e.seal(&event.TokenConfirmed{
		Address:  tokenAddress,
		Symbol:   symbol,
		Decimals: decimals,
	}, tx.TimestampMs, nil)
}

// AddTokenSymbol assigns an extra symbol to a confirmed token. Admin only.
func (e *Engine) AddTokenSymbol(tx TxContext, tokenAddress common.Address, symbol string) (Output, error) {
	if err := e.requireAdmin(tx); err != nil {
		return Output{}, err
	}
	if err := e.assets.AddSymbol(tokenAddress, symbol, tx.TimestampMs); err != nil {
		return Output{}, err
	}
	return e.seal(&event.TokenSymbolAdded{
		Address: tokenAddress,
		Symbol:  symbol,
	}, tx.TimestampMs, nil)
}
