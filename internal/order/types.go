// Package order defines the off-chain-signed settlement instructions the
// dispatcher submits: orders, withdrawals, and liquidity changes, plus the
// trade execution records that pair orders with fills. Hashing here is the
// canonical signing scheme, so field order in the hash functions is part of
// the wire contract and must never change.
package order

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Side is the taker-perspective direction of an order.
type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

// Type distinguishes price-constrained orders from market orders. Limit
// enforcement happens at settlement; time-in-force is an off-chain concern.
type Type uint8

const (
	TypeMarket Type = iota
	TypeLimit
)

// Order is a signed trading instruction. Quantity is denominated in the
// market's base asset unless IsQuantityInQuote is set (market orders only).
type Order struct {
	Nonce             uuid.UUID
	Wallet            common.Address
	Market            string // "BASE-QUOTE" symbol pair
	OrderType         Type
	Side              Side
	QuantityInPips    uint64
	IsQuantityInQuote bool
	LimitPriceInPips  uint64 // quote pips per whole base unit; zero for market orders
	ClientOrderID     string
	Signature         []byte
}

// Trade records the execution of a buy order against a sell order. Net
// quantities are what the receiving wallets are credited after fees; the
// difference against gross accrues to the fee wallet.
type Trade struct {
	BaseAssetAddress         common.Address
	QuoteAssetAddress        common.Address
	GrossBaseQuantityInPips  uint64
	GrossQuoteQuantityInPips uint64
	NetBaseQuantityInPips    uint64
	NetQuoteQuantityInPips   uint64
	MakerFeeQuantityInPips   uint64
	TakerFeeQuantityInPips   uint64
	PriceInPips              uint64
	MakerSide                Side
}

// PoolTrade records the execution of a single order against a liquidity
// pool. The pool fee stays in the pool reserves; protocol and gas fees are
// captured by the fee wallet.
type PoolTrade struct {
	BaseAssetAddress               common.Address
	QuoteAssetAddress              common.Address
	GrossBaseQuantityInPips        uint64
	GrossQuoteQuantityInPips       uint64
	NetBaseQuantityInPips          uint64
	NetQuoteQuantityInPips         uint64
	TakerPoolFeeQuantityInPips     uint64
	TakerProtocolFeeQuantityInPips uint64
	TakerGasFeeQuantityInPips      uint64
}

// Withdrawal is a signed request to move custodied funds back to a wallet.
// The asset is referenced either by symbol, resolved as of the nonce
// timestamp, or directly by token address.
type Withdrawal struct {
	Nonce               uuid.UUID
	Wallet              common.Address
	AssetSymbol         string
	AssetAddress        common.Address
	ByAddress           bool // asset referenced by address rather than symbol
	GrossQuantityInPips uint64
	GasFeeInPips        uint64
	Signature           []byte
}

// LiquidityChangeType distinguishes pool deposits from pool share redemptions.
type LiquidityChangeType uint8

const (
	LiquidityAddition LiquidityChangeType = iota
	LiquidityRemoval
)

// LiquidityChangeOrigination records how the change entered the system: as a
// wallet-submitted intent held until the dispatcher executes it, or as an
// off-chain signed instruction carried with the execution itself.
type LiquidityChangeOrigination uint8

const (
	OriginationOnChain LiquidityChangeOrigination = iota
	OriginationOffChain
)

// LiquidityChange describes an intended pool deposit or withdrawal with
// slippage bounds. Amounts are in pips of the two pool assets; AssetA and
// AssetB may arrive in either base/quote order.
type LiquidityChange struct {
	ChangeType           LiquidityChangeType
	Origination          LiquidityChangeOrigination
	Nonce                uuid.UUID
	Wallet               common.Address
	AssetA               common.Address
	AssetB               common.Address
	AmountADesiredInPips uint64
	AmountBDesiredInPips uint64
	AmountAMinInPips     uint64
	AmountBMinInPips     uint64
	To                   common.Address
	DeadlineMs           uint64
	Signature            []byte
}

// LiquidityExecution is the dispatcher-computed settlement of a
// LiquidityChange: the realized reserve deltas and the pool tokens minted or
// burned. Gross quantities move against the pool; net quantities move against
// the wallet, with the difference going to the fee wallet.
type LiquidityExecution struct {
	BaseAssetAddress         common.Address
	QuoteAssetAddress        common.Address
	LiquidityInPips          uint64
	GrossBaseQuantityInPips  uint64
	GrossQuoteQuantityInPips uint64
	NetBaseQuantityInPips    uint64
	NetQuoteQuantityInPips   uint64
}
