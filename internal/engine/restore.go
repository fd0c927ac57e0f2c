package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"SpotLedger/internal/event"
	"SpotLedger/internal/ledger"
)

// Restore re-applies one persisted event during startup replay. Balance
// outcomes come from the journaled transfers; registry, pool, and guard
// state come from the event payloads. Envelope hash chaining is verified so
// a corrupted or tampered log aborts recovery instead of silently diverging.
func (e *Engine) Restore(env event.Envelope, transfers []ledger.Transfer) error {
	if env.Sequence != e.sequence+1 {
		return fmt.Errorf("replay gap: have %d, got event %d", e.sequence, env.Sequence)
	}
	if err := env.Verify(e.prevHash); err != nil {
		return err
	}
	decoded, err := env.Decode()
	if err != nil {
		return err
	}

	e.applyTransfers(transfers)

	switch ev := decoded.(type) {
	case *event.TokenRegistered:
		err = e.assets.Register(ev.Address, ev.Symbol, ev.Decimals)
	case *event.TokenConfirmed:
		err = e.assets.Confirm(ev.Address, ev.Symbol, ev.Decimals, env.TimestampMs)
	case *event.TokenSymbolAdded:
		err = e.assets.AddSymbol(ev.Address, ev.Symbol, env.TimestampMs)
	case *event.Deposited:
		idx := ev.Index
		e.depositIndex = &idx
		if ev.MigratedQuantityInPips > 0 || e.migrationSource != nil {
			e.migratedWallets[ev.Wallet] = true
		}
	case *event.Withdrawn:
		e.settledHashes[ev.WithdrawalHash] = true
	case *event.OrderNonceInvalidated:
		e.nonceInvalidations[ev.Wallet] = nonceInvalidation{
			timestampMs:       ev.TimestampMs,
			effectiveSequence: ev.EffectiveSequence,
		}
	case *event.TradeExecuted:
		e.restoreOrderBookFill(ev)
	case *event.PoolTradeExecuted:
		err = e.restorePoolFill(ev)
	case *event.HybridTradeExecuted:
		e.restoreOrderBookFill(&ev.OrderBook)
		err = e.restorePoolFill(&ev.Pool)
	case *event.PoolPromoted:
		_, err = e.pools.Promote(ev.BaseAsset, ev.QuoteAsset, ev.PairAddress,
			ev.BaseReserveInPips, ev.QuoteReserveInPips)
	case *event.LiquidityIntended:
		e.liquidityIntents[ev.ChangeHash] = true
	case *event.LiquiditySettled:
		delete(e.liquidityIntents, ev.ChangeHash)
		e.settledHashes[ev.ChangeHash] = true
		err = e.restorePoolState(ev.BaseAsset, ev.QuoteAsset,
			ev.BaseReserveInPips, ev.QuoteReserveInPips, &ev.TotalLiquidityInPips)
	case *event.LiquidityRemovedForExit:
		err = e.restorePoolState(ev.BaseAsset, ev.QuoteAsset,
			ev.BaseReserveInPips, ev.QuoteReserveInPips, &ev.TotalLiquidityInPips)
	case *event.WalletExited:
		e.walletExits[ev.Wallet] = walletExit{exited: true, effectiveSequence: ev.EffectiveSequence}
	case *event.WalletExitWithdrawn:
		// Balance sweep is fully captured by the transfers.
	case *event.WalletExitCleared:
		delete(e.walletExits, ev.Wallet)
	case *event.GovernanceChanged:
		err = e.restoreGovernance(ev)
	default:
		err = fmt.Errorf("unhandled event type %s", env.EventType)
	}
	if err != nil {
		return fmt.Errorf("replay event %d (%s): %w", env.Sequence, env.EventType, err)
	}

	e.sequence = env.Sequence
	e.prevHash = env.Hash
	return nil
}

func (e *Engine) restoreOrderBookFill(ev *event.TradeExecuted) {
	e.settledHashes[ev.TradeHash] = true
	e.filledQuantities[ev.BuyOrderHash] += ev.BuyFillQuantityInPips
	e.filledQuantities[ev.SellOrderHash] += ev.SellFillQuantityInPips
}

func (e *Engine) restorePoolFill(ev *event.PoolTradeExecuted) error {
	e.settledHashes[ev.PoolTradeHash] = true
	e.filledQuantities[ev.OrderHash] += ev.FillQuantityInPips
	return e.restorePoolState(ev.BaseAsset, ev.QuoteAsset,
		ev.BaseReserveInPips, ev.QuoteReserveInPips, nil)
}

// restorePoolState overwrites a pool's reserves with the event's post-state.
// A nil totalLiquidity means the event did not change the share supply.
func (e *Engine) restorePoolState(baseAsset, quoteAsset common.Address, baseReserve, quoteReserve uint64, totalLiquidity *uint64) error {
	p, err := e.pools.ByAssets(baseAsset, quoteAsset)
	if err != nil {
		return err
	}
	p.BaseReserveInPips = baseReserve
	p.QuoteReserveInPips = quoteReserve
	if totalLiquidity != nil {
		p.TotalLiquidityInPips = *totalLiquidity
	}
	return nil
}
