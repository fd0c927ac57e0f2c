package engine

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"SpotLedger/internal/event"
	"SpotLedger/internal/ledger"
	"SpotLedger/internal/order"
	"SpotLedger/internal/pip"
)

var (
	ErrPairFactoryNotSet      = errors.New("pair factory not set")
	ErrPairAddressMismatch    = errors.New("pair address does not match factory")
	ErrDeadlineExpired        = errors.New("liquidity deadline expired")
	ErrNoLiquidityIntent      = errors.New("no matching liquidity intent")
	ErrBelowMinimumQuantity   = errors.New("gross quantity less than minimum")
	ErrAboveDesiredQuantity   = errors.New("gross quantity greater than desired")
	ErrInvalidLiquidityAmount = errors.New("invalid liquidity share amount")
	ErrWrongChangeDirection   = errors.New("wrong liquidity change direction")
)

// PromotePool creates the on-ledger pool for a market from the external
// pair's current reserves. Admin only, once per market.
func (e *Engine) PromotePool(tx TxContext, baseAsset, quoteAsset, pairAddress common.Address) (Output, error) {
	if err := e.requireAdmin(tx); err != nil {
		return Output{}, err
	}
	if e.pairFactory == nil {
		return Output{}, ErrPairFactoryNotSet
	}
	base, err := e.assets.ByAddress(baseAsset)
	if err != nil {
		return Output{}, err
	}
	quote, err := e.assets.ByAddress(quoteAsset)
	if err != nil {
		return Output{}, err
	}
	if base.Address == quote.Address {
		return Output{}, ErrSameTradeAssets
	}

	canonical, err := e.pairFactory.PairFor(baseAsset, quoteAsset)
	if err != nil {
		return Output{}, err
	}
	if canonical != pairAddress {
		return Output{}, ErrPairAddressMismatch
	}

	pair, err := e.pairs.Pair(pairAddress)
	if err != nil {
		return Output{}, err
	}
	baseUnits, quoteUnits, err := pair.Reserves()
	if err != nil {
		return Output{}, err
	}
	baseReserve, err := pip.AssetUnitsToPips(baseUnits, base.Decimals)
	if err != nil {
		return Output{}, err
	}
	quoteReserve, err := pip.AssetUnitsToPips(quoteUnits, quote.Decimals)
	if err != nil {
		return Output{}, err
	}

	p, err := e.pools.Promote(baseAsset, quoteAsset, pairAddress, baseReserve, quoteReserve)
	if err != nil {
		return Output{}, err
	}
	return e.seal(&event.PoolPromoted{
		BaseAsset:            baseAsset,
		QuoteAsset:           quoteAsset,
		PairAddress:          pairAddress,
		BaseReserveInPips:    p.BaseReserveInPips,
		QuoteReserveInPips:   p.QuoteReserveInPips,
		TotalLiquidityInPips: p.TotalLiquidityInPips,
	}, tx.TimestampMs, nil)
}

// AddLiquidity records a wallet's intent to deposit into a pool. The
// dispatcher later settles it via ExecuteAddLiquidity against this recorded
// hash; off-chain-signed changes skip this step and carry a signature
// instead.
func (e *Engine) AddLiquidity(tx TxContext, change order.LiquidityChange) (Output, error) {
	return e.recordIntent(tx, change, order.LiquidityAddition)
}

// RemoveLiquidity records a wallet's intent to redeem pool shares.
func (e *Engine) RemoveLiquidity(tx TxContext, change order.LiquidityChange) (Output, error) {
	return e.recordIntent(tx, change, order.LiquidityRemoval)
}

func (e *Engine) recordIntent(tx TxContext, change order.LiquidityChange, direction order.LiquidityChangeType) (Output, error) {
	if change.ChangeType != direction {
		return Output{}, ErrWrongChangeDirection
	}
	if change.Wallet != tx.Caller {
		return Output{}, errors.New("intent wallet must be caller")
	}
	if err := e.requireNotExited(tx.Caller); err != nil {
		return Output{}, err
	}
	if change.DeadlineMs < tx.TimestampMs {
		return Output{}, ErrDeadlineExpired
	}
	hash := change.Hash()
	e.liquidityIntents[hash] = true
	return e.seal(&event.LiquidityIntended{
		ChangeHash: hash,
		Wallet:     change.Wallet,
		Removal:    direction == order.LiquidityRemoval,
	}, tx.TimestampMs, nil)
}

// authorizeChange verifies a liquidity change either against a recorded
// on-chain intent or by its off-chain signature.
func (e *Engine) authorizeChange(change *order.LiquidityChange) (common.Hash, error) {
	hash := change.Hash()
	if change.Origination == order.OriginationOnChain {
		if !e.liquidityIntents[hash] {
			return common.Hash{}, ErrNoLiquidityIntent
		}
		return hash, nil
	}
	signer, err := e.verifier.RecoverSigner(hash, change.Signature)
	if err != nil {
		return common.Hash{}, err
	}
	if signer != change.Wallet {
		return common.Hash{}, ErrInvalidOrderSigner
	}
	return hash, nil
}

// checkBounds validates the dispatcher-realized gross amounts against the
// wallet's desired/min range, pairing AssetA/AssetB with base/quote in
// whichever order the wallet supplied them.
func checkBounds(change *order.LiquidityChange, exec *order.LiquidityExecution) error {
	aDesired, bDesired := change.AmountADesiredInPips, change.AmountBDesiredInPips
	aMin, bMin := change.AmountAMinInPips, change.AmountBMinInPips
	if change.AssetA != exec.BaseAssetAddress {
		if change.AssetA != exec.QuoteAssetAddress || change.AssetB != exec.BaseAssetAddress {
			return ErrSymbolAddressMismatch
		}
		aDesired, bDesired = bDesired, aDesired
		aMin, bMin = bMin, aMin
	} else if change.AssetB != exec.QuoteAssetAddress {
		return ErrSymbolAddressMismatch
	}
	if exec.GrossBaseQuantityInPips < aMin || exec.GrossQuoteQuantityInPips < bMin {
		return ErrBelowMinimumQuantity
	}
	if exec.GrossBaseQuantityInPips > aDesired || exec.GrossQuoteQuantityInPips > bDesired {
		return ErrAboveDesiredQuantity
	}
	return nil
}

// ExecuteAddLiquidity settles a liquidity addition: debits the wallet's two
// asset balances, grows the reserves, and credits LP shares under the pair
// address. Dispatcher only.
func (e *Engine) ExecuteAddLiquidity(tx TxContext, change order.LiquidityChange, exec order.LiquidityExecution) (Output, error) {
	if err := e.requireDispatcher(tx); err != nil {
		return Output{}, err
	}
	if change.ChangeType != order.LiquidityAddition {
		return Output{}, ErrWrongChangeDirection
	}
	hash, err := e.authorizeChange(&change)
	if err != nil {
		return Output{}, err
	}
	if e.settledHashes[hash] {
		return Output{}, ErrTradeAlreadySettled
	}
	if err := e.requireNotExited(change.Wallet); err != nil {
		return Output{}, err
	}
	if change.DeadlineMs < tx.TimestampMs {
		return Output{}, ErrDeadlineExpired
	}
	if err := checkBounds(&change, &exec); err != nil {
		return Output{}, err
	}
	p, err := e.pools.ByAssets(exec.BaseAssetAddress, exec.QuoteAssetAddress)
	if err != nil {
		return Output{}, err
	}

	// Shares are valued on the net contribution, the amount that actually
	// enters the reserves. The fee spread goes to the fee wallet.
	if exec.NetBaseQuantityInPips > exec.GrossBaseQuantityInPips ||
		exec.NetQuoteQuantityInPips > exec.GrossQuoteQuantityInPips {
		return Output{}, ErrNetQuantityMismatch
	}
	baseFee := exec.GrossBaseQuantityInPips - exec.NetBaseQuantityInPips
	quoteFee := exec.GrossQuoteQuantityInPips - exec.NetQuoteQuantityInPips
	if err := checkFeeCap(baseFee, exec.GrossBaseQuantityInPips); err != nil {
		return Output{}, err
	}
	if err := checkFeeCap(quoteFee, exec.GrossQuoteQuantityInPips); err != nil {
		return Output{}, err
	}
	shares, err := p.SharesForDeposit(exec.NetBaseQuantityInPips, exec.NetQuoteQuantityInPips)
	if err != nil {
		return Output{}, err
	}
	if shares == 0 || shares != exec.LiquidityInPips {
		return Output{}, ErrInvalidLiquidityAmount
	}

	if e.balances.Get(change.Wallet, exec.BaseAssetAddress) < exec.GrossBaseQuantityInPips ||
		e.balances.Get(change.Wallet, exec.QuoteAssetAddress) < exec.GrossQuoteQuantityInPips {
		return Output{}, ledger.ErrInsufficientBalance
	}

	recipient := change.To
	if recipient == (common.Address{}) {
		recipient = change.Wallet
	}

	var transfers []ledger.Transfer
	e.mustDebit(change.Wallet, exec.BaseAssetAddress, exec.GrossBaseQuantityInPips, &transfers)
	e.mustDebit(change.Wallet, exec.QuoteAssetAddress, exec.GrossQuoteQuantityInPips, &transfers)
	if baseFee > 0 {
		e.mustCredit(e.feeWallet, exec.BaseAssetAddress, baseFee, &transfers)
	}
	if quoteFee > 0 {
		e.mustCredit(e.feeWallet, exec.QuoteAssetAddress, quoteFee, &transfers)
	}
	e.mustCredit(recipient, p.PairAddress, shares, &transfers)
	p.BaseReserveInPips += exec.NetBaseQuantityInPips
	p.QuoteReserveInPips += exec.NetQuoteQuantityInPips
	p.TotalLiquidityInPips += shares
	delete(e.liquidityIntents, hash)
	e.settledHashes[hash] = true

	// Mirror the share mint on the external pair after state is settled.
	if err := e.mintOnPair(p.PairAddress, recipient, shares); err != nil {
		e.log.Warn().Err(err).Str("pair", p.PairAddress.Hex()).Msg("pair mint notification failed")
	}

	if e.metrics != nil {
		e.metrics.LiquidityChanges.WithLabelValues("add").Inc()
	}
	return e.seal(&event.LiquiditySettled{
		ChangeHash:               hash,
		Wallet:                   change.Wallet,
		To:                       recipient,
		BaseAsset:                exec.BaseAssetAddress,
		QuoteAsset:               exec.QuoteAssetAddress,
		LiquidityInPips:          shares,
		GrossBaseQuantityInPips:  exec.GrossBaseQuantityInPips,
		GrossQuoteQuantityInPips: exec.GrossQuoteQuantityInPips,
		NetBaseQuantityInPips:    exec.NetBaseQuantityInPips,
		NetQuoteQuantityInPips:   exec.NetQuoteQuantityInPips,
		BaseReserveInPips:        p.BaseReserveInPips,
		QuoteReserveInPips:       p.QuoteReserveInPips,
		TotalLiquidityInPips:     p.TotalLiquidityInPips,
	}, tx.TimestampMs, transfers)
}

// ExecuteRemoveLiquidity settles a share redemption: debits LP shares,
// shrinks the reserves, and credits the two underlying assets net of fees.
// Dispatcher only.
func (e *Engine) ExecuteRemoveLiquidity(tx TxContext, change order.LiquidityChange, exec order.LiquidityExecution) (Output, error) {
	if err := e.requireDispatcher(tx); err != nil {
		return Output{}, err
	}
	if change.ChangeType != order.LiquidityRemoval {
		return Output{}, ErrWrongChangeDirection
	}
	hash, err := e.authorizeChange(&change)
	if err != nil {
		return Output{}, err
	}
	if e.settledHashes[hash] {
		return Output{}, ErrTradeAlreadySettled
	}
	if err := e.requireNotExited(change.Wallet); err != nil {
		return Output{}, err
	}
	if change.DeadlineMs < tx.TimestampMs {
		return Output{}, ErrDeadlineExpired
	}
	p, err := e.pools.ByAssets(exec.BaseAssetAddress, exec.QuoteAssetAddress)
	if err != nil {
		return Output{}, err
	}

	if exec.NetBaseQuantityInPips > exec.GrossBaseQuantityInPips ||
		exec.NetQuoteQuantityInPips > exec.GrossQuoteQuantityInPips {
		return Output{}, ErrNetQuantityMismatch
	}
	baseFee := exec.GrossBaseQuantityInPips - exec.NetBaseQuantityInPips
	quoteFee := exec.GrossQuoteQuantityInPips - exec.NetQuoteQuantityInPips
	if err := checkFeeCap(baseFee, exec.GrossBaseQuantityInPips); err != nil {
		return Output{}, err
	}
	if err := checkFeeCap(quoteFee, exec.GrossQuoteQuantityInPips); err != nil {
		return Output{}, err
	}

	expectedBase, expectedQuote, err := p.OutputForShares(exec.LiquidityInPips)
	if err != nil {
		return Output{}, err
	}
	if exec.GrossBaseQuantityInPips != expectedBase || exec.GrossQuoteQuantityInPips != expectedQuote {
		return Output{}, ErrInvalidLiquidityAmount
	}
	if err := checkBounds(&change, &exec); err != nil {
		return Output{}, err
	}
	if e.balances.Get(change.Wallet, p.PairAddress) < exec.LiquidityInPips {
		return Output{}, ledger.ErrInsufficientBalance
	}

	recipient := change.To
	if recipient == (common.Address{}) {
		recipient = change.Wallet
	}

	var transfers []ledger.Transfer
	e.mustDebit(change.Wallet, p.PairAddress, exec.LiquidityInPips, &transfers)
	e.mustCredit(recipient, exec.BaseAssetAddress, exec.NetBaseQuantityInPips, &transfers)
	e.mustCredit(recipient, exec.QuoteAssetAddress, exec.NetQuoteQuantityInPips, &transfers)
	if baseFee > 0 {
		e.mustCredit(e.feeWallet, exec.BaseAssetAddress, baseFee, &transfers)
	}
	if quoteFee > 0 {
		e.mustCredit(e.feeWallet, exec.QuoteAssetAddress, quoteFee, &transfers)
	}
	p.BaseReserveInPips -= exec.GrossBaseQuantityInPips
	p.QuoteReserveInPips -= exec.GrossQuoteQuantityInPips
	p.TotalLiquidityInPips -= exec.LiquidityInPips
	delete(e.liquidityIntents, hash)
	e.settledHashes[hash] = true

	if err := e.burnOnPair(p.PairAddress, change.Wallet, exec.LiquidityInPips); err != nil {
		e.log.Warn().Err(err).Str("pair", p.PairAddress.Hex()).Msg("pair burn notification failed")
	}

	if e.metrics != nil {
		e.metrics.LiquidityChanges.WithLabelValues("remove").Inc()
	}
	return e.seal(&event.LiquiditySettled{
		ChangeHash:               hash,
		Wallet:                   change.Wallet,
		To:                       recipient,
		BaseAsset:                exec.BaseAssetAddress,
		QuoteAsset:               exec.QuoteAssetAddress,
		Removal:                  true,
		LiquidityInPips:          exec.LiquidityInPips,
		GrossBaseQuantityInPips:  exec.GrossBaseQuantityInPips,
		GrossQuoteQuantityInPips: exec.GrossQuoteQuantityInPips,
		NetBaseQuantityInPips:    exec.NetBaseQuantityInPips,
		NetQuoteQuantityInPips:   exec.NetQuoteQuantityInPips,
		BaseReserveInPips:        p.BaseReserveInPips,
		QuoteReserveInPips:       p.QuoteReserveInPips,
		TotalLiquidityInPips:     p.TotalLiquidityInPips,
	}, tx.TimestampMs, transfers)
}

// RemoveLiquidityExit unwinds the caller's entire LP position in a pool at
// the current reserve ratio, without dispatcher gating or a signed change.
// Only available to wallets whose exit is final.
func (e *Engine) RemoveLiquidityExit(tx TxContext, baseAsset, quoteAsset common.Address) (Output, error) {
	exited, finalized := e.exitStatus(tx.Caller)
	if !exited {
		return Output{}, ErrNeverExited
	}
	if !finalized {
		return Output{}, ErrExitNotFinal
	}
	p, err := e.pools.ByAssets(baseAsset, quoteAsset)
	if err != nil {
		return Output{}, err
	}
	shares := e.balances.Get(tx.Caller, p.PairAddress)
	if shares == 0 {
		return Output{}, ErrNoBalanceForAsset
	}
	baseOut, quoteOut, err := p.OutputForShares(shares)
	if err != nil {
		return Output{}, err
	}

	var transfers []ledger.Transfer
	e.mustDebit(tx.Caller, p.PairAddress, shares, &transfers)
	e.mustCredit(tx.Caller, baseAsset, baseOut, &transfers)
	e.mustCredit(tx.Caller, quoteAsset, quoteOut, &transfers)
	p.BaseReserveInPips -= baseOut
	p.QuoteReserveInPips -= quoteOut
	p.TotalLiquidityInPips -= shares

	if err := e.burnOnPair(p.PairAddress, tx.Caller, shares); err != nil {
		e.log.Warn().Err(err).Str("pair", p.PairAddress.Hex()).Msg("pair burn notification failed")
	}

	if e.metrics != nil {
		e.metrics.LiquidityChanges.WithLabelValues("exit").Inc()
	}
	return e.seal(&event.LiquidityRemovedForExit{
		Wallet:               tx.Caller,
		BaseAsset:            baseAsset,
		QuoteAsset:           quoteAsset,
		LiquidityInPips:      shares,
		BaseQuantityInPips:   baseOut,
		QuoteQuantityInPips:  quoteOut,
		BaseReserveInPips:    p.BaseReserveInPips,
		QuoteReserveInPips:   p.QuoteReserveInPips,
		TotalLiquidityInPips: p.TotalLiquidityInPips,
	}, tx.TimestampMs, transfers)
}

// mintOnPair and burnOnPair mirror share supply changes onto the external
// pair contract. Failures are logged, not fatal: the ledger is the system
// of record and the pair is reconciled out of band.
func (e *Engine) mintOnPair(pairAddress, to common.Address, shares uint64) error {
	if e.pairs == nil {
		return nil
	}
	pair, err := e.pairs.Pair(pairAddress)
	if err != nil {
		return err
	}
	units, err := pip.PipsToAssetUnits(shares, asset18Decimals)
	if err != nil {
		return err
	}
	return pair.Mint(to, units)
}

func (e *Engine) burnOnPair(pairAddress, from common.Address, shares uint64) error {
	if e.pairs == nil {
		return nil
	}
	pair, err := e.pairs.Pair(pairAddress)
	if err != nil {
		return err
	}
	units, err := pip.PipsToAssetUnits(shares, asset18Decimals)
	if err != nil {
		return err
	}
	return pair.Burn(from, units)
}

// LP share tokens are minted at the native 18-decimal precision.
const asset18Decimals = 18
