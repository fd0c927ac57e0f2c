package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"SpotLedger/internal/event"
	"SpotLedger/internal/ledger"
	"SpotLedger/internal/order"
	"SpotLedger/internal/pool"
)

// poolLeg is a fully validated pool fill, ready to apply.
type poolLeg struct {
	taker         *order.Order
	pt            *order.PoolTrade
	p             *pool.Pool
	orderHash     common.Hash
	poolTradeHash common.Hash
	newBase       uint64
	newQuote      uint64
}

// validatePoolLeg runs every pool settlement check without mutating state.
// The taker order itself must already be validated; only the pool math and
// fill accounting are checked here.
func (e *Engine) validatePoolLeg(taker *order.Order, pt *order.PoolTrade, orderHash common.Hash) (*poolLeg, error) {
	if pt.BaseAssetAddress == pt.QuoteAssetAddress {
		return nil, ErrSameTradeAssets
	}
	p, err := e.pools.ByAssets(pt.BaseAssetAddress, pt.QuoteAssetAddress)
	if err != nil {
		return nil, err
	}

	if pt.NetBaseQuantityInPips > pt.GrossBaseQuantityInPips ||
		pt.NetQuoteQuantityInPips > pt.GrossQuoteQuantityInPips {
		return nil, ErrNetQuantityMismatch
	}

	var newBase, newQuote uint64
	if taker.Side == order.SideBuy {
		// Quote in, base out. Pool and protocol fees are withheld from the
		// input; the gas fee from the delivered base.
		inputFees := pt.TakerPoolFeeQuantityInPips + pt.TakerProtocolFeeQuantityInPips
		if inputFees > pt.GrossQuoteQuantityInPips ||
			pt.NetQuoteQuantityInPips != pt.GrossQuoteQuantityInPips-inputFees {
			return nil, ErrNetQuantityMismatch
		}
		if pt.NetBaseQuantityInPips != pt.GrossBaseQuantityInPips-pt.TakerGasFeeQuantityInPips {
			return nil, ErrNetQuantityMismatch
		}
		if err := checkFeeCap(inputFees, pt.GrossQuoteQuantityInPips); err != nil {
			return nil, err
		}
		if err := checkFeeCap(pt.TakerGasFeeQuantityInPips, pt.GrossBaseQuantityInPips); err != nil {
			return nil, err
		}

		expectedOut := pool.ConstantProductOut(
			p.QuoteReserveInPips, p.BaseReserveInPips, pt.NetQuoteQuantityInPips)
		if pt.GrossBaseQuantityInPips > expectedOut {
			return nil, ErrProductWouldDecrease
		}
		if pt.GrossBaseQuantityInPips > p.BaseReserveInPips {
			return nil, pool.ErrEmptyReserves
		}
		// The protocol fee leaves the system; the pool fee stays in the
		// reserves, which is how providers earn.
		newQuote = p.QuoteReserveInPips + pt.GrossQuoteQuantityInPips - pt.TakerProtocolFeeQuantityInPips
		newBase = p.BaseReserveInPips - pt.GrossBaseQuantityInPips

		if e.balances.Get(taker.Wallet, pt.QuoteAssetAddress) < pt.GrossQuoteQuantityInPips {
			return nil, ledger.ErrInsufficientBalance
		}
	} else {
		// Base in, quote out.
		inputFees := pt.TakerPoolFeeQuantityInPips + pt.TakerProtocolFeeQuantityInPips
		if inputFees > pt.GrossBaseQuantityInPips ||
			pt.NetBaseQuantityInPips != pt.GrossBaseQuantityInPips-inputFees {
			return nil, ErrNetQuantityMismatch
		}
		if pt.NetQuoteQuantityInPips != pt.GrossQuoteQuantityInPips-pt.TakerGasFeeQuantityInPips {
			return nil, ErrNetQuantityMismatch
		}
		if err := checkFeeCap(inputFees, pt.GrossBaseQuantityInPips); err != nil {
			return nil, err
		}
		if err := checkFeeCap(pt.TakerGasFeeQuantityInPips, pt.GrossQuoteQuantityInPips); err != nil {
			return nil, err
		}

		expectedOut := pool.ConstantProductOut(
			p.BaseReserveInPips, p.QuoteReserveInPips, pt.NetBaseQuantityInPips)
		if pt.GrossQuoteQuantityInPips > expectedOut {
			return nil, ErrProductWouldDecrease
		}
		if pt.GrossQuoteQuantityInPips > p.QuoteReserveInPips {
			return nil, pool.ErrEmptyReserves
		}
		newBase = p.BaseReserveInPips + pt.GrossBaseQuantityInPips - pt.TakerProtocolFeeQuantityInPips
		newQuote = p.QuoteReserveInPips - pt.GrossQuoteQuantityInPips

		if e.balances.Get(taker.Wallet, pt.BaseAssetAddress) < pt.GrossBaseQuantityInPips {
			return nil, ledger.ErrInsufficientBalance
		}
	}

	// Final invariant: the product never decreases across a swap.
	oldProduct := p.Product()
	newProduct := new(uint256.Int).Mul(uint256.NewInt(newBase), uint256.NewInt(newQuote))
	if newProduct.Lt(oldProduct) {
		return nil, ErrProductWouldDecrease
	}

	if err := checkLimit(taker, pt.GrossBaseQuantityInPips, pt.GrossQuoteQuantityInPips); err != nil {
		return nil, err
	}
	if err := e.checkFill(orderHash, taker, fillQuantity(taker, pt.GrossBaseQuantityInPips, pt.GrossQuoteQuantityInPips)); err != nil {
		return nil, err
	}

	poolTradeHash := order.PoolTradeHash(orderHash, pt)
	if e.settledHashes[poolTradeHash] {
		return nil, ErrTradeAlreadySettled
	}

	return &poolLeg{
		taker: taker, pt: pt, p: p,
		orderHash: orderHash, poolTradeHash: poolTradeHash,
		newBase: newBase, newQuote: newQuote,
	}, nil
}

// applyPoolLeg moves the taker balances and reserves of a validated leg.
func (e *Engine) applyPoolLeg(leg *poolLeg, transfers *[]ledger.Transfer) {
	pt := leg.pt
	if leg.taker.Side == order.SideBuy {
		e.mustDebit(leg.taker.Wallet, pt.QuoteAssetAddress, pt.GrossQuoteQuantityInPips, transfers)
		e.mustCredit(leg.taker.Wallet, pt.BaseAssetAddress, pt.NetBaseQuantityInPips, transfers)
		if pt.TakerProtocolFeeQuantityInPips > 0 {
			e.mustCredit(e.feeWallet, pt.QuoteAssetAddress, pt.TakerProtocolFeeQuantityInPips, transfers)
		}
		if pt.TakerGasFeeQuantityInPips > 0 {
			e.mustCredit(e.feeWallet, pt.BaseAssetAddress, pt.TakerGasFeeQuantityInPips, transfers)
		}
	} else {
		e.mustDebit(leg.taker.Wallet, pt.BaseAssetAddress, pt.GrossBaseQuantityInPips, transfers)
		e.mustCredit(leg.taker.Wallet, pt.QuoteAssetAddress, pt.NetQuoteQuantityInPips, transfers)
		if pt.TakerProtocolFeeQuantityInPips > 0 {
			e.mustCredit(e.feeWallet, pt.BaseAssetAddress, pt.TakerProtocolFeeQuantityInPips, transfers)
		}
		if pt.TakerGasFeeQuantityInPips > 0 {
			e.mustCredit(e.feeWallet, pt.QuoteAssetAddress, pt.TakerGasFeeQuantityInPips, transfers)
		}
	}
	leg.p.BaseReserveInPips = leg.newBase
	leg.p.QuoteReserveInPips = leg.newQuote
	e.recordFill(leg.orderHash, fillQuantity(leg.taker, pt.GrossBaseQuantityInPips, pt.GrossQuoteQuantityInPips))
	e.settledHashes[leg.poolTradeHash] = true
	e.observeReserves(leg.taker.Market, leg.p)
}

func (e *Engine) observeReserves(market string, p *pool.Pool) {
	if e.metrics == nil {
		return
	}
	e.metrics.PoolBaseReserve.WithLabelValues(market).Set(float64(p.BaseReserveInPips))
	e.metrics.PoolQuoteReserve.WithLabelValues(market).Set(float64(p.QuoteReserveInPips))
}

// ExecutePoolTrade settles an order against pool liquidity. Dispatcher only.
func (e *Engine) ExecutePoolTrade(tx TxContext, taker order.Order, pt order.PoolTrade) (Output, error) {
	if err := e.requireDispatcher(tx); err != nil {
		return Output{}, err
	}
	orderHash, err := e.validateOrder(&taker, pt.BaseAssetAddress, pt.QuoteAssetAddress)
	if err != nil {
		return Output{}, err
	}
	leg, err := e.validatePoolLeg(&taker, &pt, orderHash)
	if err != nil {
		return Output{}, err
	}

	var transfers []ledger.Transfer
	e.applyPoolLeg(leg, &transfers)

	if e.metrics != nil {
		e.metrics.TradesSettled.WithLabelValues("pool").Inc()
	}
	return e.seal(poolTradeEvent(leg), tx.TimestampMs, transfers)
}

func poolTradeEvent(leg *poolLeg) *event.PoolTradeExecuted {
	return &event.PoolTradeExecuted{
		PoolTradeHash:             leg.poolTradeHash,
		OrderHash:                 leg.orderHash,
		Wallet:                    leg.taker.Wallet,
		BaseAsset:                 leg.pt.BaseAssetAddress,
		QuoteAsset:                leg.pt.QuoteAssetAddress,
		Market:                    leg.taker.Market,
		GrossBaseQuantityInPips:   leg.pt.GrossBaseQuantityInPips,
		GrossQuoteQuantityInPips:  leg.pt.GrossQuoteQuantityInPips,
		PoolFeeQuantityInPips:     leg.pt.TakerPoolFeeQuantityInPips,
		ProtocolFeeQuantityInPips: leg.pt.TakerProtocolFeeQuantityInPips,
		GasFeeQuantityInPips:      leg.pt.TakerGasFeeQuantityInPips,
		FillQuantityInPips:        fillQuantity(leg.taker, leg.pt.GrossBaseQuantityInPips, leg.pt.GrossQuoteQuantityInPips),
		BaseReserveInPips:         leg.p.BaseReserveInPips,
		QuoteReserveInPips:        leg.p.QuoteReserveInPips,
	}
}

// ExecuteHybridTrade settles one taker order partly against a maker order
// and partly against the pool, both legs at the same executed price, both or
// neither. Dispatcher only.
func (e *Engine) ExecuteHybridTrade(tx TxContext, taker, maker order.Order, t order.Trade, pt order.PoolTrade) (Output, error) {
	if err := e.requireDispatcher(tx); err != nil {
		return Output{}, err
	}

	if pt.BaseAssetAddress != t.BaseAssetAddress || pt.QuoteAssetAddress != t.QuoteAssetAddress {
		return Output{}, ErrOrderMarketMismatch
	}

	buy, sell := &taker, &maker
	if taker.Side == order.SideSell {
		buy, sell = &maker, &taker
	}

	// Same-price requirement across legs, compared exactly by
	// cross-multiplication to avoid double flooring.
	left := new(uint256.Int).Mul(
		uint256.NewInt(t.GrossQuoteQuantityInPips),
		uint256.NewInt(pt.GrossBaseQuantityInPips),
	)
	right := new(uint256.Int).Mul(
		uint256.NewInt(pt.GrossQuoteQuantityInPips),
		uint256.NewInt(t.GrossBaseQuantityInPips),
	)
	if !left.Eq(right) {
		return Output{}, ErrHybridPriceDivergence
	}

	obLeg, err := e.validateOrderBookLeg(buy, sell, &t)
	if err != nil {
		return Output{}, err
	}
	takerHash := obLeg.buyHash
	if taker.Side == order.SideSell {
		takerHash = obLeg.sellHash
	}
	pLeg, err := e.validatePoolLeg(&taker, &pt, takerHash)
	if err != nil {
		return Output{}, err
	}

	// The combined fill must fit the taker order; each leg alone passing is
	// not enough.
	combined := fillQuantity(&taker, t.GrossBaseQuantityInPips, t.GrossQuoteQuantityInPips) +
		fillQuantity(&taker, pt.GrossBaseQuantityInPips, pt.GrossQuoteQuantityInPips)
	if err := e.checkFill(takerHash, &taker, combined); err != nil {
		return Output{}, err
	}

	// Per-leg sufficiency checked against the same pre-trade balances is
	// not enough either: both legs debit the taker's input asset, so the
	// summed debits per (wallet, asset) must fit before anything moves.
	debits := make(map[ledger.Key]uint64, 3)
	debits[ledger.Key{Wallet: buy.Wallet, Asset: t.QuoteAssetAddress}] += t.GrossQuoteQuantityInPips
	debits[ledger.Key{Wallet: sell.Wallet, Asset: t.BaseAssetAddress}] += t.GrossBaseQuantityInPips
	if taker.Side == order.SideBuy {
		debits[ledger.Key{Wallet: taker.Wallet, Asset: pt.QuoteAssetAddress}] += pt.GrossQuoteQuantityInPips
	} else {
		debits[ledger.Key{Wallet: taker.Wallet, Asset: pt.BaseAssetAddress}] += pt.GrossBaseQuantityInPips
	}
	for k, quantity := range debits {
		if e.balances.Get(k.Wallet, k.Asset) < quantity {
			return Output{}, ledger.ErrInsufficientBalance
		}
	}

	var transfers []ledger.Transfer
	e.applyOrderBookLeg(obLeg, &transfers)
	e.applyPoolLeg(pLeg, &transfers)

	if e.metrics != nil {
		e.metrics.TradesSettled.WithLabelValues("hybrid").Inc()
	}
	return e.seal(&event.HybridTradeExecuted{
		OrderBook: event.TradeExecuted{
			TradeHash:                obLeg.tradeHash,
			BuyOrderHash:             obLeg.buyHash,
			SellOrderHash:            obLeg.sellHash,
			BuyWallet:                buy.Wallet,
			SellWallet:               sell.Wallet,
			BaseAsset:                t.BaseAssetAddress,
			QuoteAsset:               t.QuoteAssetAddress,
			Market:                   taker.Market,
			GrossBaseQuantityInPips:  t.GrossBaseQuantityInPips,
			GrossQuoteQuantityInPips: t.GrossQuoteQuantityInPips,
			MakerFeeQuantityInPips:   t.MakerFeeQuantityInPips,
			TakerFeeQuantityInPips:   t.TakerFeeQuantityInPips,
			PriceInPips:              t.PriceInPips,
			BuyFillQuantityInPips:    fillQuantity(buy, t.GrossBaseQuantityInPips, t.GrossQuoteQuantityInPips),
			SellFillQuantityInPips:   fillQuantity(sell, t.GrossBaseQuantityInPips, t.GrossQuoteQuantityInPips),
		},
		Pool: *poolTradeEvent(pLeg),
	}, tx.TimestampMs, transfers)
}
