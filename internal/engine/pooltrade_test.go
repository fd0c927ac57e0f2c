package engine

import (
	"errors"
	"testing"

	"SpotLedger/internal/ledger"
	"SpotLedger/internal/order"
	"SpotLedger/internal/pip"
	"SpotLedger/internal/pool"
)

// promotePool seeds the external pair with the given reserves and promotes
// the XYZ-ETH pool from them.
func (r *rig) promotePool(baseReserveInPips, quoteReserveInPips uint64) {
	r.t.Helper()
	baseUnits, err := pip.PipsToAssetUnits(baseReserveInPips, 18)
	if err != nil {
		r.t.Fatal(err)
	}
	quoteUnits, err := pip.PipsToAssetUnits(quoteReserveInPips, 18)
	if err != nil {
		r.t.Fatal(err)
	}
	r.pairs[pairXYZETH].baseReserve = baseUnits
	r.pairs[pairXYZETH].quoteReserve = quoteUnits
	if _, err := r.engine.PromotePool(r.adminTx(), tokenXYZ, nativeAddr, pairXYZETH); err != nil {
		r.t.Fatalf("PromotePool: %v", err)
	}
}

// ============================================================================
// Pool settlement
// ============================================================================

// Buying base with 1.0 quote against 10000/10 reserves yields the classic
// constant-product quantity 909.09090909.
func TestExecutePoolTrade(t *testing.T) {
	r := newRig(t)
	r.promotePool(10000_00000000, 10_00000000)
	r.fund(r.walletA, nativeAddr, 1_00000000)

	taker := r.limitOrder(r.keyA, order.SideBuy, 1000_00000000, 0)
	taker.OrderType = order.TypeMarket
	r.sign(&taker, r.keyA)

	pt := order.PoolTrade{
		BaseAssetAddress:         tokenXYZ,
		QuoteAssetAddress:        nativeAddr,
		GrossBaseQuantityInPips:  909_09090909,
		GrossQuoteQuantityInPips: 1_00000000,
		NetBaseQuantityInPips:    909_09090909,
		NetQuoteQuantityInPips:   1_00000000,
	}
	if _, err := r.engine.ExecutePoolTrade(r.dispatcherTx(), taker, pt); err != nil {
		t.Fatalf("pool trade: %v", err)
	}

	if got := r.balance(r.walletA, tokenXYZ); got != 909_09090909 {
		t.Errorf("taker base = %d, want 90909090909", got)
	}
	if got := r.balance(r.walletA, nativeAddr); got != 0 {
		t.Errorf("taker quote = %d, want 0", got)
	}
	p, err := r.engine.PoolByAssets(tokenXYZ, nativeAddr)
	if err != nil {
		t.Fatal(err)
	}
	if p.BaseReserveInPips != 10000_00000000-909_09090909 {
		t.Errorf("base reserve = %d", p.BaseReserveInPips)
	}
	if p.QuoteReserveInPips != 11_00000000 {
		t.Errorf("quote reserve = %d", p.QuoteReserveInPips)
	}
}

// Pool fee stays in the reserves; protocol and gas fees accrue to the fee
// wallet.
func TestPoolTradeFeeAccounting(t *testing.T) {
	r := newRig(t)
	r.promotePool(10000_00000000, 10_00000000)
	r.fund(r.walletA, nativeAddr, 1_00000000)

	taker := r.limitOrder(r.keyA, order.SideBuy, 1000_00000000, 0)
	taker.OrderType = order.TypeMarket
	r.sign(&taker, r.keyA)

	pt := order.PoolTrade{
		BaseAssetAddress:               tokenXYZ,
		QuoteAssetAddress:              nativeAddr,
		GrossBaseQuantityInPips:        906_61089388,
		GrossQuoteQuantityInPips:       1_00000000,
		NetBaseQuantityInPips:          906_60089388,
		NetQuoteQuantityInPips:         99700000,
		TakerPoolFeeQuantityInPips:     200000,
		TakerProtocolFeeQuantityInPips: 100000,
		TakerGasFeeQuantityInPips:      1000000,
	}
	if _, err := r.engine.ExecutePoolTrade(r.dispatcherTx(), taker, pt); err != nil {
		t.Fatalf("pool trade: %v", err)
	}

	if got := r.balance(r.walletA, tokenXYZ); got != 906_60089388 {
		t.Errorf("taker base = %d, want net 90660089388", got)
	}
	if got := r.balance(testFeeWallet, nativeAddr); got != 100000 {
		t.Errorf("fee wallet quote = %d, want protocol fee 100000", got)
	}
	if got := r.balance(testFeeWallet, tokenXYZ); got != 1000000 {
		t.Errorf("fee wallet base = %d, want gas fee 1000000", got)
	}

	p, _ := r.engine.PoolByAssets(tokenXYZ, nativeAddr)
	// The pool fee is the spread between gross input and formula input; it
	// stays in the quote reserve alongside the swap input.
	if p.QuoteReserveInPips != 10_99900000 {
		t.Errorf("quote reserve = %d, want 1099900000", p.QuoteReserveInPips)
	}
	if p.BaseReserveInPips != 9093_38910612 {
		t.Errorf("base reserve = %d, want 909338910612", p.BaseReserveInPips)
	}
}

// ============================================================================
// Pool rejections
// ============================================================================

func TestPoolTradeRejections(t *testing.T) {
	r := newRig(t)
	r.promotePool(10000_00000000, 10_00000000)
	r.fund(r.walletA, nativeAddr, 10_00000000)

	newTaker := func() order.Order {
		o := r.limitOrder(r.keyA, order.SideBuy, 10000_00000000, 0)
		o.OrderType = order.TypeMarket
		r.sign(&o, r.keyA)
		return o
	}
	goodPT := func() order.PoolTrade {
		return order.PoolTrade{
			BaseAssetAddress:         tokenXYZ,
			QuoteAssetAddress:        nativeAddr,
			GrossBaseQuantityInPips:  909_09090909,
			GrossQuoteQuantityInPips: 1_00000000,
			NetBaseQuantityInPips:    909_09090909,
			NetQuoteQuantityInPips:   1_00000000,
		}
	}

	t.Run("output above curve", func(t *testing.T) {
		pt := goodPT()
		pt.GrossBaseQuantityInPips++
		pt.NetBaseQuantityInPips++
		if _, err := r.engine.ExecutePoolTrade(r.dispatcherTx(), newTaker(), pt); !errors.Is(err, ErrProductWouldDecrease) {
			t.Errorf("got %v, want ErrProductWouldDecrease", err)
		}
	})

	t.Run("fees do not reconcile", func(t *testing.T) {
		pt := goodPT()
		pt.TakerPoolFeeQuantityInPips = 1 // not reflected in net quote
		if _, err := r.engine.ExecutePoolTrade(r.dispatcherTx(), newTaker(), pt); !errors.Is(err, ErrNetQuantityMismatch) {
			t.Errorf("got %v, want ErrNetQuantityMismatch", err)
		}
	})

	t.Run("assets do not match market", func(t *testing.T) {
		pt := goodPT()
		pt.BaseAssetAddress, pt.QuoteAssetAddress = pt.QuoteAssetAddress, pt.BaseAssetAddress
		if _, err := r.engine.ExecutePoolTrade(r.dispatcherTx(), newTaker(), pt); !errors.Is(err, ErrSymbolAddressMismatch) {
			t.Errorf("got %v, want ErrSymbolAddressMismatch", err)
		}
	})

	t.Run("replay", func(t *testing.T) {
		taker := newTaker()
		pt := goodPT()
		if _, err := r.engine.ExecutePoolTrade(r.dispatcherTx(), taker, pt); err != nil {
			t.Fatal(err)
		}
		if _, err := r.engine.ExecutePoolTrade(r.dispatcherTx(), taker, pt); !errors.Is(err, ErrTradeAlreadySettled) {
			t.Errorf("got %v, want ErrTradeAlreadySettled", err)
		}
	})
}

func TestPoolTradeWithoutPool(t *testing.T) {
	r := newRig(t) // no pool promoted
	r.fund(r.walletA, nativeAddr, 1_00000000)

	taker := r.limitOrder(r.keyA, order.SideBuy, 1000_00000000, 0)
	taker.OrderType = order.TypeMarket
	r.sign(&taker, r.keyA)
	pt := order.PoolTrade{
		BaseAssetAddress:         tokenXYZ,
		QuoteAssetAddress:        nativeAddr,
		GrossBaseQuantityInPips:  1,
		GrossQuoteQuantityInPips: 1,
		NetBaseQuantityInPips:    1,
		NetQuoteQuantityInPips:   1,
	}
	if _, err := r.engine.ExecutePoolTrade(r.dispatcherTx(), taker, pt); !errors.Is(err, pool.ErrNoPoolForMarket) {
		t.Errorf("got %v, want ErrNoPoolForMarket", err)
	}
}

// A limit taker cannot cross the pool at a worse price than its limit.
func TestPoolTradeHonorsLimit(t *testing.T) {
	r := newRig(t)
	r.promotePool(10000_00000000, 10_00000000)
	r.fund(r.walletA, nativeAddr, 1_00000000)

	// Executed price is 1.0/909.09 per whole base, about 0.0011; a buy
	// limit below that must reject.
	taker := r.limitOrder(r.keyA, order.SideBuy, 1000_00000000, 10000)
	pt := order.PoolTrade{
		BaseAssetAddress:         tokenXYZ,
		QuoteAssetAddress:        nativeAddr,
		GrossBaseQuantityInPips:  909_09090909,
		GrossQuoteQuantityInPips: 1_00000000,
		NetBaseQuantityInPips:    909_09090909,
		NetQuoteQuantityInPips:   1_00000000,
	}
	if _, err := r.engine.ExecutePoolTrade(r.dispatcherTx(), taker, pt); !errors.Is(err, ErrLimitPriceViolated) {
		t.Errorf("got %v, want ErrLimitPriceViolated", err)
	}
}

// ============================================================================
// Hybrid settlement
// ============================================================================

func TestExecuteHybridTrade(t *testing.T) {
	r := newRig(t)
	r.promotePool(10000_00000000, 10_00000000)
	r.fund(r.walletA, nativeAddr, 1_01000000)
	r.fund(r.walletB, tokenXYZ, 10_00000000)

	taker := r.limitOrder(r.keyA, order.SideBuy, 20_00000000, 10000000)
	maker := r.limitOrder(r.keyB, order.SideSell, 10_00000000, 10000000)

	// Both legs execute at 0.1: 10.0 base for 1.0 quote on the book, 0.1
	// base for 0.01 quote against the pool.
	tr := testTrade(10_00000000, 1_00000000)
	pt := order.PoolTrade{
		BaseAssetAddress:         tokenXYZ,
		QuoteAssetAddress:        nativeAddr,
		GrossBaseQuantityInPips:  10000000,
		GrossQuoteQuantityInPips: 1000000,
		NetBaseQuantityInPips:    10000000,
		NetQuoteQuantityInPips:   1000000,
	}

	if _, err := r.engine.ExecuteHybridTrade(r.dispatcherTx(), taker, maker, tr, pt); err != nil {
		t.Fatalf("hybrid trade: %v", err)
	}
	if got := r.balance(r.walletA, tokenXYZ); got != 10_10000000 {
		t.Errorf("taker base = %d, want both legs 1010000000", got)
	}
	if got := r.balance(r.walletA, nativeAddr); got != 0 {
		t.Errorf("taker quote = %d, want 0", got)
	}
	if got := r.balance(r.walletB, nativeAddr); got != 1_00000000 {
		t.Errorf("maker quote = %d, want 100000000", got)
	}
}

func TestHybridRequiresSamePrice(t *testing.T) {
	r := newRig(t)
	r.promotePool(10000_00000000, 10_00000000)
	r.fund(r.walletA, nativeAddr, 2_00000000)
	r.fund(r.walletB, tokenXYZ, 10_00000000)

	taker := r.limitOrder(r.keyA, order.SideBuy, 20_00000000, 10000000)
	maker := r.limitOrder(r.keyB, order.SideSell, 10_00000000, 10000000)
	tr := testTrade(10_00000000, 1_00000000)
	pt := order.PoolTrade{
		BaseAssetAddress:         tokenXYZ,
		QuoteAssetAddress:        nativeAddr,
		GrossBaseQuantityInPips:  10000001, // off the book price
		GrossQuoteQuantityInPips: 1000000,
		NetBaseQuantityInPips:    10000001,
		NetQuoteQuantityInPips:   1000000,
	}
	if _, err := r.engine.ExecuteHybridTrade(r.dispatcherTx(), taker, maker, tr, pt); !errors.Is(err, ErrHybridPriceDivergence) {
		t.Errorf("got %v, want ErrHybridPriceDivergence", err)
	}
}

// Per-leg fill checks are not enough: the two legs together must fit the
// taker order.
func TestHybridCombinedOverfill(t *testing.T) {
	r := newRig(t)
	r.promotePool(10000_00000000, 10_00000000)
	r.fund(r.walletA, nativeAddr, 2_00000000)
	r.fund(r.walletB, tokenXYZ, 10_00000000)

	// Taker wants 10.05 base; the book leg alone fits, the pool leg alone
	// fits, their sum does not.
	taker := r.limitOrder(r.keyA, order.SideBuy, 10_05000000, 10000000)
	maker := r.limitOrder(r.keyB, order.SideSell, 10_00000000, 10000000)
	tr := testTrade(10_00000000, 1_00000000)
	pt := order.PoolTrade{
		BaseAssetAddress:         tokenXYZ,
		QuoteAssetAddress:        nativeAddr,
		GrossBaseQuantityInPips:  10000000,
		GrossQuoteQuantityInPips: 1000000,
		NetBaseQuantityInPips:    10000000,
		NetQuoteQuantityInPips:   1000000,
	}
	if _, err := r.engine.ExecuteHybridTrade(r.dispatcherTx(), taker, maker, tr, pt); !errors.Is(err, ErrOrderOverfill) {
		t.Errorf("got %v, want ErrOrderOverfill", err)
	}
}

// A taker who can cover each hybrid leg alone but not both must be rejected
// before either leg moves a balance; the summed debits per (wallet, asset)
// are what count, not per-leg sufficiency.
func TestHybridRejectsCombinedInsufficientBalance(t *testing.T) {
	r := newRig(t)
	r.promotePool(10000_00000000, 10_00000000)
	// Covers the 1.0 book leg or the 0.01 pool leg, not their sum.
	r.fund(r.walletA, nativeAddr, 1_00000000)
	r.fund(r.walletB, tokenXYZ, 10_00000000)

	taker := r.limitOrder(r.keyA, order.SideBuy, 20_00000000, 10000000)
	maker := r.limitOrder(r.keyB, order.SideSell, 10_00000000, 10000000)
	tr := testTrade(10_00000000, 1_00000000)
	pt := order.PoolTrade{
		BaseAssetAddress:         tokenXYZ,
		QuoteAssetAddress:        nativeAddr,
		GrossBaseQuantityInPips:  10000000,
		GrossQuoteQuantityInPips: 1000000,
		NetBaseQuantityInPips:    10000000,
		NetQuoteQuantityInPips:   1000000,
	}

	before := r.engine.Sequence()
	if _, err := r.engine.ExecuteHybridTrade(r.dispatcherTx(), taker, maker, tr, pt); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
	if got := r.balance(r.walletA, nativeAddr); got != 1_00000000 {
		t.Errorf("taker quote = %d, want untouched 100000000", got)
	}
	if got := r.balance(r.walletA, tokenXYZ); got != 0 {
		t.Errorf("taker base = %d, want 0", got)
	}
	if got := r.balance(r.walletB, tokenXYZ); got != 10_00000000 {
		t.Errorf("maker base = %d, want untouched 1000000000", got)
	}
	if r.engine.Sequence() != before {
		t.Error("no event may be sealed for a rejected hybrid trade")
	}
}
