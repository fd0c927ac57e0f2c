package event

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// TokenRegistered records the first step of token registration.
type TokenRegistered struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

func (e *TokenRegistered) IdempotencyKey() string {
	return fmt.Sprintf("token-registered:%s:%s", e.Address.Hex(), e.Symbol)
}
func (e *TokenRegistered) EventType() Type { return TypeTokenRegistered }

// TokenConfirmed records the finalizing confirmation of a registration.
type TokenConfirmed struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

func (e *TokenConfirmed) IdempotencyKey() string {
	return fmt.Sprintf("token-confirmed:%s", e.Address.Hex())
}
func (e *TokenConfirmed) EventType() Type { return TypeTokenConfirmed }

// TokenSymbolAdded records an additional symbol assignment.
type TokenSymbolAdded struct {
	Address common.Address `json:"address"`
	Symbol  string         `json:"symbol"`
}

func (e *TokenSymbolAdded) IdempotencyKey() string {
	return fmt.Sprintf("token-symbol:%s:%s", e.Address.Hex(), e.Symbol)
}
func (e *TokenSymbolAdded) EventType() Type { return TypeTokenSymbolAdded }

// Deposited records custody of incoming funds. MigratedQuantityInPips is the
// predecessor-ledger balance folded in on the wallet's first deposit.
type Deposited struct {
	Index                  uint64         `json:"index"`
	Wallet                 common.Address `json:"wallet"`
	Asset                  common.Address `json:"asset"`
	Symbol                 string         `json:"symbol"`
	QuantityInPips         uint64         `json:"quantityInPips"`
	MigratedQuantityInPips uint64         `json:"migratedQuantityInPips"`
}

func (e *Deposited) IdempotencyKey() string { return fmt.Sprintf("deposit:%d", e.Index) }
func (e *Deposited) EventType() Type        { return TypeDeposited }

// Withdrawn records a dispatcher-settled withdrawal.
type Withdrawn struct {
	WithdrawalHash      common.Hash    `json:"withdrawalHash"`
	Wallet              common.Address `json:"wallet"`
	Asset               common.Address `json:"asset"`
	Symbol              string         `json:"symbol"`
	GrossQuantityInPips uint64         `json:"grossQuantityInPips"`
	GasFeeInPips        uint64         `json:"gasFeeInPips"`
	NetQuantityInPips   uint64         `json:"netQuantityInPips"`
}

func (e *Withdrawn) IdempotencyKey() string {
	return fmt.Sprintf("withdrawal:%s", e.WithdrawalHash.Hex())
}
func (e *Withdrawn) EventType() Type { return TypeWithdrawn }

// OrderNonceInvalidated records a wallet's replay-protection cutoff. Orders
// with nonce timestamps at or before TimestampMs stop settling once
// EffectiveSequence is reached.
type OrderNonceInvalidated struct {
	Wallet            common.Address `json:"wallet"`
	Nonce             uuid.UUID      `json:"nonce"`
	TimestampMs       uint64         `json:"timestampMs"`
	EffectiveSequence uint64         `json:"effectiveSequence"`
}

func (e *OrderNonceInvalidated) IdempotencyKey() string {
	return fmt.Sprintf("nonce:%s:%s", e.Wallet.Hex(), e.Nonce)
}
func (e *OrderNonceInvalidated) EventType() Type { return TypeOrderNonceInvalidated }

// TradeExecuted records an order-book fill.
type TradeExecuted struct {
	TradeHash                common.Hash    `json:"tradeHash"`
	BuyOrderHash             common.Hash    `json:"buyOrderHash"`
	SellOrderHash            common.Hash    `json:"sellOrderHash"`
	BuyWallet                common.Address `json:"buyWallet"`
	SellWallet               common.Address `json:"sellWallet"`
	BaseAsset                common.Address `json:"baseAsset"`
	QuoteAsset               common.Address `json:"quoteAsset"`
	Market                   string         `json:"market"`
	GrossBaseQuantityInPips  uint64         `json:"grossBaseQuantityInPips"`
	GrossQuoteQuantityInPips uint64         `json:"grossQuoteQuantityInPips"`
	MakerFeeQuantityInPips   uint64         `json:"makerFeeQuantityInPips"`
	TakerFeeQuantityInPips   uint64         `json:"takerFeeQuantityInPips"`
	PriceInPips              uint64         `json:"priceInPips"`

	// Fill quantities in each order's own denomination, for replaying the
	// overfill guard.
	BuyFillQuantityInPips  uint64 `json:"buyFillQuantityInPips"`
	SellFillQuantityInPips uint64 `json:"sellFillQuantityInPips"`
}

func (e *TradeExecuted) IdempotencyKey() string { return fmt.Sprintf("trade:%s", e.TradeHash.Hex()) }
func (e *TradeExecuted) EventType() Type        { return TypeTradeExecuted }

// PoolTradeExecuted records a fill of an order against pool liquidity,
// including the post-trade reserves for replay and projections.
type PoolTradeExecuted struct {
	PoolTradeHash             common.Hash    `json:"poolTradeHash"`
	OrderHash                 common.Hash    `json:"orderHash"`
	Wallet                    common.Address `json:"wallet"`
	BaseAsset                 common.Address `json:"baseAsset"`
	QuoteAsset                common.Address `json:"quoteAsset"`
	Market                    string         `json:"market"`
	GrossBaseQuantityInPips   uint64         `json:"grossBaseQuantityInPips"`
	GrossQuoteQuantityInPips  uint64         `json:"grossQuoteQuantityInPips"`
	PoolFeeQuantityInPips     uint64         `json:"poolFeeQuantityInPips"`
	ProtocolFeeQuantityInPips uint64         `json:"protocolFeeQuantityInPips"`
	GasFeeQuantityInPips      uint64         `json:"gasFeeQuantityInPips"`
	FillQuantityInPips        uint64         `json:"fillQuantityInPips"`
	BaseReserveInPips         uint64         `json:"baseReserveInPips"`
	QuoteReserveInPips        uint64         `json:"quoteReserveInPips"`
}

func (e *PoolTradeExecuted) IdempotencyKey() string {
	return fmt.Sprintf("pool-trade:%s", e.PoolTradeHash.Hex())
}
func (e *PoolTradeExecuted) EventType() Type { return TypePoolTradeExecuted }

// HybridTradeExecuted records the paired settlement of an order-book leg and
// a pool leg under one taker order.
type HybridTradeExecuted struct {
	OrderBook TradeExecuted     `json:"orderBook"`
	Pool      PoolTradeExecuted `json:"pool"`
}

func (e *HybridTradeExecuted) IdempotencyKey() string {
	return fmt.Sprintf("hybrid-trade:%s:%s", e.OrderBook.TradeHash.Hex(), e.Pool.PoolTradeHash.Hex())
}
func (e *HybridTradeExecuted) EventType() Type { return TypeHybridTradeExecuted }

// PoolPromoted records the one-time creation of a market's liquidity pool.
type PoolPromoted struct {
	BaseAsset            common.Address `json:"baseAsset"`
	QuoteAsset           common.Address `json:"quoteAsset"`
	PairAddress          common.Address `json:"pairAddress"`
	BaseReserveInPips    uint64         `json:"baseReserveInPips"`
	QuoteReserveInPips   uint64         `json:"quoteReserveInPips"`
	TotalLiquidityInPips uint64         `json:"totalLiquidityInPips"`
}

func (e *PoolPromoted) IdempotencyKey() string {
	return fmt.Sprintf("pool-promoted:%s:%s", e.BaseAsset.Hex(), e.QuoteAsset.Hex())
}
func (e *PoolPromoted) EventType() Type { return TypePoolPromoted }

// LiquidityIntended records a wallet-submitted liquidity change awaiting
// dispatcher execution.
type LiquidityIntended struct {
	ChangeHash common.Hash    `json:"changeHash"`
	Wallet     common.Address `json:"wallet"`
	Removal    bool           `json:"removal"`
}

func (e *LiquidityIntended) IdempotencyKey() string {
	return fmt.Sprintf("liquidity-intent:%s", e.ChangeHash.Hex())
}

func (e *LiquidityIntended) EventType() Type {
	if e.Removal {
		return TypeLiquidityRemovalIntended
	}
	return TypeLiquidityAdditionIntended
}

// LiquiditySettled records an executed liquidity addition or removal with the
// post-change pool state.
type LiquiditySettled struct {
	ChangeHash               common.Hash    `json:"changeHash"`
	Wallet                   common.Address `json:"wallet"`
	To                       common.Address `json:"to"`
	BaseAsset                common.Address `json:"baseAsset"`
	QuoteAsset               common.Address `json:"quoteAsset"`
	Removal                  bool           `json:"removal"`
	LiquidityInPips          uint64         `json:"liquidityInPips"`
	GrossBaseQuantityInPips  uint64         `json:"grossBaseQuantityInPips"`
	GrossQuoteQuantityInPips uint64         `json:"grossQuoteQuantityInPips"`
	NetBaseQuantityInPips    uint64         `json:"netBaseQuantityInPips"`
	NetQuoteQuantityInPips   uint64         `json:"netQuoteQuantityInPips"`
	BaseReserveInPips        uint64         `json:"baseReserveInPips"`
	QuoteReserveInPips       uint64         `json:"quoteReserveInPips"`
	TotalLiquidityInPips     uint64         `json:"totalLiquidityInPips"`
}

func (e *LiquiditySettled) IdempotencyKey() string {
	return fmt.Sprintf("liquidity:%s", e.ChangeHash.Hex())
}

func (e *LiquiditySettled) EventType() Type {
	if e.Removal {
		return TypeLiquidityRemoved
	}
	return TypeLiquidityAdded
}

// LiquidityRemovedForExit records the exit safety valve unwinding a wallet's
// whole LP position at the current reserve ratio.
type LiquidityRemovedForExit struct {
	Wallet               common.Address `json:"wallet"`
	BaseAsset            common.Address `json:"baseAsset"`
	QuoteAsset           common.Address `json:"quoteAsset"`
	LiquidityInPips      uint64         `json:"liquidityInPips"`
	BaseQuantityInPips   uint64         `json:"baseQuantityInPips"`
	QuoteQuantityInPips  uint64         `json:"quoteQuantityInPips"`
	BaseReserveInPips    uint64         `json:"baseReserveInPips"`
	QuoteReserveInPips   uint64         `json:"quoteReserveInPips"`
	TotalLiquidityInPips uint64         `json:"totalLiquidityInPips"`
}

func (e *LiquidityRemovedForExit) IdempotencyKey() string {
	return fmt.Sprintf("liquidity-exit:%s:%s:%s", e.Wallet.Hex(), e.BaseAsset.Hex(), e.QuoteAsset.Hex())
}
func (e *LiquidityRemovedForExit) EventType() Type { return TypeLiquidityRemovedForExit }

// WalletExited records the start of the trust-minimizing exit path.
type WalletExited struct {
	Wallet            common.Address `json:"wallet"`
	EffectiveSequence uint64         `json:"effectiveSequence"`
}

func (e *WalletExited) IdempotencyKey() string {
	return fmt.Sprintf("exit:%s:%d", e.Wallet.Hex(), e.EffectiveSequence)
}
func (e *WalletExited) EventType() Type { return TypeWalletExited }

// WalletExitWithdrawn records a dispatcherless sweep of one asset balance.
type WalletExitWithdrawn struct {
	Wallet         common.Address `json:"wallet"`
	Asset          common.Address `json:"asset"`
	QuantityInPips uint64         `json:"quantityInPips"`
}

func (e *WalletExitWithdrawn) IdempotencyKey() string {
	return fmt.Sprintf("exit-withdrawal:%s:%s", e.Wallet.Hex(), e.Asset.Hex())
}
func (e *WalletExitWithdrawn) EventType() Type { return TypeWalletExitWithdrawn }

// WalletExitCleared records a wallet re-enabling itself after an exit.
type WalletExitCleared struct {
	Wallet common.Address `json:"wallet"`
}

func (e *WalletExitCleared) IdempotencyKey() string {
	return fmt.Sprintf("exit-cleared:%s", e.Wallet.Hex())
}
func (e *WalletExitCleared) EventType() Type { return TypeWalletExitCleared }

// GovernanceChanged records an owner or admin configuration change. Field
// identifies what changed; Wallet and Value carry the new setting where
// applicable.
type GovernanceChanged struct {
	Field  string         `json:"field"`
	Wallet common.Address `json:"wallet"`
	Value  uint64         `json:"value"`
	Key    string         `json:"key"`
}

func (e *GovernanceChanged) IdempotencyKey() string { return e.Key }
func (e *GovernanceChanged) EventType() Type        { return TypeGovernanceChanged }

func newEvent(t Type) Event {
	switch t {
	case TypeTokenRegistered:
		return &TokenRegistered{}
	case TypeTokenConfirmed:
		return &TokenConfirmed{}
	case TypeTokenSymbolAdded:
		return &TokenSymbolAdded{}
	case TypeDeposited:
		return &Deposited{}
	case TypeWithdrawn:
		return &Withdrawn{}
	case TypeOrderNonceInvalidated:
		return &OrderNonceInvalidated{}
	case TypeTradeExecuted:
		return &TradeExecuted{}
	case TypePoolTradeExecuted:
		return &PoolTradeExecuted{}
	case TypeHybridTradeExecuted:
		return &HybridTradeExecuted{}
	case TypePoolPromoted:
		return &PoolPromoted{}
	case TypeLiquidityAdditionIntended:
		return &LiquidityIntended{}
	case TypeLiquidityRemovalIntended:
		return &LiquidityIntended{Removal: true}
	case TypeLiquidityAdded:
		return &LiquiditySettled{}
	case TypeLiquidityRemoved:
		return &LiquiditySettled{Removal: true}
	case TypeLiquidityRemovedForExit:
		return &LiquidityRemovedForExit{}
	case TypeWalletExited:
		return &WalletExited{}
	case TypeWalletExitWithdrawn:
		return &WalletExitWithdrawn{}
	case TypeWalletExitCleared:
		return &WalletExitCleared{}
	case TypeGovernanceChanged:
		return &GovernanceChanged{}
	default:
		return nil
	}
}
