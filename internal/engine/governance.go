package engine

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"SpotLedger/internal/event"
	"SpotLedger/internal/ledger"
)

var (
	ErrZeroAddress    = errors.New("address must be nonzero")
	ErrAlreadySet     = errors.New("can only be set once")
	ErrMustBeNonzero  = errors.New("must be nonzero")
	ErrPeriodTooLarge = errors.New("chain propagation period exceeds maximum")
)

// govEvent seals a GovernanceChanged event. Governance calls carry no
// content-derived dedup key, so the key borrows the event's own sequence
// number, which survives restarts. A counter would restart at zero after
// replay and collide with journaled keys.
func (e *Engine) govEvent(tx TxContext, field string, wallet common.Address, value uint64) (Output, error) {
	return e.seal(&event.GovernanceChanged{
		Field:  field,
		Wallet: wallet,
		Value:  value,
		Key:    fmt.Sprintf("gov:%s:%d", field, e.sequence+1),
	}, tx.TimestampMs, nil)
}

// SetAdmin grants the admin role. Owner only.
func (e *Engine) SetAdmin(tx TxContext, admin common.Address) (Output, error) {
	if err := e.requireOwner(tx); err != nil {
		return Output{}, err
	}
	if admin == (common.Address{}) {
		return Output{}, ErrZeroAddress
	}
	e.admins[admin] = true
	return e.govEvent(tx, "adminAdded", admin, 0)
}

// RemoveAdmin revokes the admin role. Owner only; the owner's own admin
// rights cannot be removed.
func (e *Engine) RemoveAdmin(tx TxContext, admin common.Address) (Output, error) {
	if err := e.requireOwner(tx); err != nil {
		return Output{}, err
	}
	if admin == e.owner {
		return Output{}, errors.New("cannot remove owner admin rights")
	}
	if !e.admins[admin] {
		return Output{}, errors.New("wallet is not an admin")
	}
	delete(e.admins, admin)
	return e.govEvent(tx, "adminRemoved", admin, 0)
}

// SetCustodian binds the vault collaborator. Owner only, one time.
func (e *Engine) SetCustodian(tx TxContext, custodian Custodian) (Output, error) {
	if err := e.requireOwner(tx); err != nil {
		return Output{}, err
	}
	if e.custodian != nil {
		return Output{}, ErrAlreadySet
	}
	if custodian == nil || custodian.Address() == (common.Address{}) {
		return Output{}, ErrZeroAddress
	}
	e.custodian = custodian
	return e.govEvent(tx, "custodian", custodian.Address(), 0)
}

// SetPairFactory binds the AMM pair factory. Admin only, one time.
func (e *Engine) SetPairFactory(tx TxContext, factoryAddress common.Address, factory PairFactory) (Output, error) {
	if err := e.requireAdmin(tx); err != nil {
		return Output{}, err
	}
	if e.pairFactory != nil {
		return Output{}, ErrAlreadySet
	}
	if factory == nil || factoryAddress == (common.Address{}) {
		return Output{}, ErrZeroAddress
	}
	e.pairFactory = factory
	return e.govEvent(tx, "pairFactory", factoryAddress, 0)
}

// SetDispatcher designates the wallet allowed to settle trades and
// withdrawals. Admin only.
func (e *Engine) SetDispatcher(tx TxContext, dispatcher common.Address) (Output, error) {
	if err := e.requireAdmin(tx); err != nil {
		return Output{}, err
	}
	if dispatcher == (common.Address{}) {
		return Output{}, ErrZeroAddress
	}
	e.dispatcher = dispatcher
	return e.govEvent(tx, "dispatcher", dispatcher, 0)
}

// RemoveDispatcher suspends settlement, the kill switch for a compromised
// dispatcher key. Admin only.
func (e *Engine) RemoveDispatcher(tx TxContext) (Output, error) {
	if err := e.requireAdmin(tx); err != nil {
		return Output{}, err
	}
	e.dispatcher = common.Address{}
	return e.govEvent(tx, "dispatcherRemoved", common.Address{}, 0)
}

// SetFeeWallet designates the wallet credited with trade and gas fees.
// Admin only.
func (e *Engine) SetFeeWallet(tx TxContext, feeWallet common.Address) (Output, error) {
	if err := e.requireAdmin(tx); err != nil {
		return Output{}, err
	}
	if feeWallet == (common.Address{}) {
		return Output{}, ErrZeroAddress
	}
	e.feeWallet = feeWallet
	return e.govEvent(tx, "feeWallet", feeWallet, 0)
}

// SetChainPropagationPeriod adjusts the exit and nonce-invalidation delay.
// Admin only.
func (e *Engine) SetChainPropagationPeriod(tx TxContext, period uint64) (Output, error) {
	if err := e.requireAdmin(tx); err != nil {
		return Output{}, err
	}
	if period > maxChainPropagationPeriod {
		return Output{}, ErrPeriodTooLarge
	}
	e.chainPropagationPeriod = period
	return e.govEvent(tx, "chainPropagationPeriod", common.Address{}, period)
}

// SetDepositIndex enables deposits, one time. The index seeds the deposit
// counter so event ids continue from a predecessor deployment.
func (e *Engine) SetDepositIndex(tx TxContext, index uint64) (Output, error) {
	if err := e.requireAdmin(tx); err != nil {
		return Output{}, err
	}
	if e.depositIndex != nil {
		return Output{}, ErrAlreadySet
	}
	if index == 0 {
		return Output{}, ErrMustBeNonzero
	}
	idx := index
	e.depositIndex = &idx
	return e.govEvent(tx, "depositIndex", common.Address{}, index)
}

// restoreGovernance re-applies a GovernanceChanged payload during replay.
func (e *Engine) restoreGovernance(g *event.GovernanceChanged) error {
	switch g.Field {
	case "adminAdded":
		e.admins[g.Wallet] = true
	case "adminRemoved":
		delete(e.admins, g.Wallet)
	case "custodian", "pairFactory":
		// Collaborator bindings are re-established from configuration at
		// startup; the event only witnesses that the one-shot fired.
	case "dispatcher":
		e.dispatcher = g.Wallet
	case "dispatcherRemoved":
		e.dispatcher = common.Address{}
	case "feeWallet":
		e.feeWallet = g.Wallet
	case "chainPropagationPeriod":
		e.chainPropagationPeriod = g.Value
	case "depositIndex":
		idx := g.Value
		e.depositIndex = &idx
	default:
		return fmt.Errorf("unknown governance field %q", g.Field)
	}
	return nil
}

// applyTransfers restores recorded balance outcomes during replay.
func (e *Engine) applyTransfers(transfers []ledger.Transfer) {
	for _, t := range transfers {
		e.balances.Restore(t.Wallet, t.Asset, t.BalanceAfterInPips)
	}
}
