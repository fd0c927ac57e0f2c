package engine

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"SpotLedger/internal/asset"
	"SpotLedger/internal/event"
	"SpotLedger/internal/ledger"
	"SpotLedger/internal/order"
	"SpotLedger/internal/pip"
	"SpotLedger/internal/pool"
)

var (
	ErrInvalidMarketSymbol   = errors.New("invalid market symbol pair")
	ErrSameTradeAssets       = errors.New("trade assets must be different")
	ErrOrdersNotBuySell      = errors.New("orders must be buy and sell")
	ErrOrderMarketMismatch   = errors.New("orders must be for the same market")
	ErrSymbolAddressMismatch = errors.New("order symbol address mismatch")
	ErrInvalidOrderSigner    = errors.New("invalid wallet signature")
	ErrTradeAlreadySettled   = errors.New("trade hash already settled")
	ErrNetQuantityMismatch   = errors.New("net and gross quantities do not reconcile with fees")
	ErrExcessiveTradeFee     = errors.New("excessive trade fee")
	ErrPriceMismatch         = errors.New("trade price does not match quantities")
	ErrLimitPriceViolated    = errors.New("limit price not crossed by executed price")
	ErrOrderOverfill         = errors.New("fill exceeds order remaining quantity")
	ErrHybridPriceDivergence = errors.New("hybrid legs executed at different prices")
	ErrProductWouldDecrease  = pool.ErrProductWouldShrink
)

const pipScale = 100000000

// resolveMarket splits a "BASE-QUOTE" market string and resolves both
// symbols as of an order's nonce timestamp.
func (e *Engine) resolveMarket(market string, atMs uint64) (base, quote asset.Asset, err error) {
	parts := strings.Split(market, "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return asset.Asset{}, asset.Asset{}, ErrInvalidMarketSymbol
	}
	if base, err = e.assets.BySymbol(parts[0], atMs); err != nil {
		return asset.Asset{}, asset.Asset{}, err
	}
	if quote, err = e.assets.BySymbol(parts[1], atMs); err != nil {
		return asset.Asset{}, asset.Asset{}, err
	}
	return base, quote, nil
}

// validateOrder runs the per-order checks shared by every settlement path:
// signature recovery, replay guard, exit standing, and market resolution
// against the fill's asset addresses. Returns the order hash.
func (e *Engine) validateOrder(o *order.Order, baseAddress, quoteAddress common.Address) (common.Hash, error) {
	hash := o.Hash()
	signer, err := e.verifier.RecoverSigner(hash, o.Signature)
	if err != nil {
		return common.Hash{}, err
	}
	if signer != o.Wallet {
		return common.Hash{}, ErrInvalidOrderSigner
	}
	if err := e.requireNotExited(o.Wallet); err != nil {
		return common.Hash{}, err
	}
	nonceTsMs, err := e.checkNonce(o.Wallet, o.Nonce)
	if err != nil {
		return common.Hash{}, err
	}
	// Symbols resolve as of signing time, so a later symbol reassignment
	// cannot redirect an order onto a different token.
	base, quote, err := e.resolveMarket(o.Market, nonceTsMs)
	if err != nil {
		return common.Hash{}, err
	}
	if base.Address != baseAddress || quote.Address != quoteAddress {
		return common.Hash{}, ErrSymbolAddressMismatch
	}
	return hash, nil
}

// executedPrice computes quote pips per whole base unit, floored.
func executedPrice(grossBaseInPips, grossQuoteInPips uint64) (uint64, error) {
	if grossBaseInPips == 0 {
		return 0, errors.New("gross base quantity must be nonzero")
	}
	return pip.MultiplyFraction(grossQuoteInPips, pipScale, grossBaseInPips)
}

// checkLimit enforces the limit-crossing rule against the fill's gross
// quantities without a lossy division: a buy must pay at most its limit, a
// sell must receive at least its limit.
func checkLimit(o *order.Order, grossBaseInPips, grossQuoteInPips uint64) error {
	if o.OrderType != order.TypeLimit {
		return nil
	}
	limitSide := new(uint256.Int).Mul(
		uint256.NewInt(o.LimitPriceInPips),
		uint256.NewInt(grossBaseInPips),
	)
	executedSide := new(uint256.Int).Mul(
		uint256.NewInt(grossQuoteInPips),
		uint256.NewInt(pipScale),
	)
	if o.Side == order.SideBuy && limitSide.Lt(executedSide) {
		return ErrLimitPriceViolated
	}
	if o.Side == order.SideSell && limitSide.Gt(executedSide) {
		return ErrLimitPriceViolated
	}
	return nil
}

// checkFeeCap rejects any fee component above 20% of its gross quantity.
func checkFeeCap(feeInPips, grossInPips uint64) error {
	maxFee, err := pip.MultiplyFraction(grossInPips, maxFeeBasisPoints, 10000)
	if err != nil {
		return err
	}
	if feeInPips > maxFee {
		return ErrExcessiveTradeFee
	}
	return nil
}

// fillQuantity is the portion of an order consumed by a fill, in the
// order's own quantity denomination.
func fillQuantity(o *order.Order, grossBaseInPips, grossQuoteInPips uint64) uint64 {
	if o.IsQuantityInQuote {
		return grossQuoteInPips
	}
	return grossBaseInPips
}

// checkFill verifies a fill fits the order's remaining quantity.
func (e *Engine) checkFill(orderHash common.Hash, o *order.Order, quantityInPips uint64) error {
	if e.filledQuantities[orderHash]+quantityInPips > o.QuantityInPips {
		return ErrOrderOverfill
	}
	return nil
}

func (e *Engine) recordFill(orderHash common.Hash, quantityInPips uint64) {
	e.filledQuantities[orderHash] += quantityInPips
}

// orderBookLeg is a fully validated order-book fill, ready to apply.
type orderBookLeg struct {
	buy       *order.Order
	sell      *order.Order
	trade     *order.Trade
	buyHash   common.Hash
	sellHash  common.Hash
	tradeHash common.Hash
	baseFee   uint64
	quoteFee  uint64
}

// validateOrderBookLeg runs every order-book settlement check without
// mutating state.
func (e *Engine) validateOrderBookLeg(buy, sell *order.Order, t *order.Trade) (*orderBookLeg, error) {
	if t.BaseAssetAddress == t.QuoteAssetAddress {
		return nil, ErrSameTradeAssets
	}
	if buy.Side != order.SideBuy || sell.Side != order.SideSell {
		return nil, ErrOrdersNotBuySell
	}
	if buy.Market != sell.Market {
		return nil, ErrOrderMarketMismatch
	}

	buyHash, err := e.validateOrder(buy, t.BaseAssetAddress, t.QuoteAssetAddress)
	if err != nil {
		return nil, err
	}
	sellHash, err := e.validateOrder(sell, t.BaseAssetAddress, t.QuoteAssetAddress)
	if err != nil {
		return nil, err
	}

	// Fee reconciliation: the buyer's fee is withheld from the base they
	// receive, the seller's from the quote. Maker/taker attribution must
	// match the stated maker side.
	if t.NetBaseQuantityInPips > t.GrossBaseQuantityInPips ||
		t.NetQuoteQuantityInPips > t.GrossQuoteQuantityInPips {
		return nil, ErrNetQuantityMismatch
	}
	baseFee := t.GrossBaseQuantityInPips - t.NetBaseQuantityInPips
	quoteFee := t.GrossQuoteQuantityInPips - t.NetQuoteQuantityInPips
	buyerFee, sellerFee := t.TakerFeeQuantityInPips, t.MakerFeeQuantityInPips
	if t.MakerSide == order.SideBuy {
		buyerFee, sellerFee = t.MakerFeeQuantityInPips, t.TakerFeeQuantityInPips
	}
	if baseFee != buyerFee || quoteFee != sellerFee {
		return nil, ErrNetQuantityMismatch
	}
	if err := checkFeeCap(baseFee, t.GrossBaseQuantityInPips); err != nil {
		return nil, err
	}
	if err := checkFeeCap(quoteFee, t.GrossQuoteQuantityInPips); err != nil {
		return nil, err
	}

	price, err := executedPrice(t.GrossBaseQuantityInPips, t.GrossQuoteQuantityInPips)
	if err != nil {
		return nil, err
	}
	if t.PriceInPips != price {
		return nil, ErrPriceMismatch
	}
	if err := checkLimit(buy, t.GrossBaseQuantityInPips, t.GrossQuoteQuantityInPips); err != nil {
		return nil, err
	}
	if err := checkLimit(sell, t.GrossBaseQuantityInPips, t.GrossQuoteQuantityInPips); err != nil {
		return nil, err
	}

	if err := e.checkFill(buyHash, buy, fillQuantity(buy, t.GrossBaseQuantityInPips, t.GrossQuoteQuantityInPips)); err != nil {
		return nil, err
	}
	if err := e.checkFill(sellHash, sell, fillQuantity(sell, t.GrossBaseQuantityInPips, t.GrossQuoteQuantityInPips)); err != nil {
		return nil, err
	}

	tradeHash := order.TradeHash(buyHash, sellHash, t)
	if e.settledHashes[tradeHash] {
		return nil, ErrTradeAlreadySettled
	}

	if e.balances.Get(buy.Wallet, t.QuoteAssetAddress) < t.GrossQuoteQuantityInPips {
		return nil, ledger.ErrInsufficientBalance
	}
	if e.balances.Get(sell.Wallet, t.BaseAssetAddress) < t.GrossBaseQuantityInPips {
		return nil, ledger.ErrInsufficientBalance
	}

	return &orderBookLeg{
		buy: buy, sell: sell, trade: t,
		buyHash: buyHash, sellHash: sellHash, tradeHash: tradeHash,
		baseFee: baseFee, quoteFee: quoteFee,
	}, nil
}

// applyOrderBookLeg moves the balances of a validated leg. Sufficiency was
// checked during validation, so the debits cannot fail.
func (e *Engine) applyOrderBookLeg(leg *orderBookLeg, transfers *[]ledger.Transfer) {
	t := leg.trade
	e.mustDebit(leg.buy.Wallet, t.QuoteAssetAddress, t.GrossQuoteQuantityInPips, transfers)
	e.mustCredit(leg.buy.Wallet, t.BaseAssetAddress, t.NetBaseQuantityInPips, transfers)
	e.mustDebit(leg.sell.Wallet, t.BaseAssetAddress, t.GrossBaseQuantityInPips, transfers)
	e.mustCredit(leg.sell.Wallet, t.QuoteAssetAddress, t.NetQuoteQuantityInPips, transfers)
	if leg.baseFee > 0 {
		e.mustCredit(e.feeWallet, t.BaseAssetAddress, leg.baseFee, transfers)
	}
	if leg.quoteFee > 0 {
		e.mustCredit(e.feeWallet, t.QuoteAssetAddress, leg.quoteFee, transfers)
	}
	e.recordFill(leg.buyHash, fillQuantity(leg.buy, t.GrossBaseQuantityInPips, t.GrossQuoteQuantityInPips))
	e.recordFill(leg.sellHash, fillQuantity(leg.sell, t.GrossBaseQuantityInPips, t.GrossQuoteQuantityInPips))
	e.settledHashes[leg.tradeHash] = true
}

// mustDebit and mustCredit apply pre-validated balance moves. A failure here
// means a validator bug, not an input condition, so they panic.
func (e *Engine) mustDebit(wallet, assetAddress common.Address, quantityInPips uint64, transfers *[]ledger.Transfer) {
	t, err := e.balances.Debit(wallet, assetAddress, quantityInPips)
	if err != nil {
		panic(err)
	}
	*transfers = append(*transfers, t)
}

func (e *Engine) mustCredit(wallet, assetAddress common.Address, quantityInPips uint64, transfers *[]ledger.Transfer) {
	t, err := e.balances.Credit(wallet, assetAddress, quantityInPips)
	if err != nil {
		panic(err)
	}
	*transfers = append(*transfers, t)
}

// ExecuteOrderBookTrade settles a buy order against a sell order at the
// stated fill. Dispatcher only. All validation precedes all mutation, so a
// rejection leaves no trace.
func (e *Engine) ExecuteOrderBookTrade(tx TxContext, buy, sell order.Order, t order.Trade) (Output, error) {
	if err := e.requireDispatcher(tx); err != nil {
		return Output{}, err
	}
	leg, err := e.validateOrderBookLeg(&buy, &sell, &t)
	if err != nil {
		return Output{}, err
	}

	var transfers []ledger.Transfer
	e.applyOrderBookLeg(leg, &transfers)

	if e.metrics != nil {
		e.metrics.TradesSettled.WithLabelValues("orderbook").Inc()
	}
	return e.seal(&event.TradeExecuted{
		TradeHash:                leg.tradeHash,
		BuyOrderHash:             leg.buyHash,
		SellOrderHash:            leg.sellHash,
		BuyWallet:                buy.Wallet,
		SellWallet:               sell.Wallet,
		BaseAsset:                t.BaseAssetAddress,
		QuoteAsset:               t.QuoteAssetAddress,
		Market:                   buy.Market,
		GrossBaseQuantityInPips:  t.GrossBaseQuantityInPips,
		GrossQuoteQuantityInPips: t.GrossQuoteQuantityInPips,
		MakerFeeQuantityInPips:   t.MakerFeeQuantityInPips,
		TakerFeeQuantityInPips:   t.TakerFeeQuantityInPips,
		PriceInPips:              t.PriceInPips,
		BuyFillQuantityInPips:    fillQuantity(&buy, t.GrossBaseQuantityInPips, t.GrossQuoteQuantityInPips),
		SellFillQuantityInPips:   fillQuantity(&sell, t.GrossBaseQuantityInPips, t.GrossQuoteQuantityInPips),
	}, tx.TimestampMs, transfers)
}
