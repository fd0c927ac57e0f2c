package order

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func be64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func boolByte(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

// Hash computes the canonical Keccak-256 digest a wallet signs to authorize
// an order.
func (o *Order) Hash() common.Hash {
	return crypto.Keccak256Hash(
		o.Nonce[:],
		o.Wallet.Bytes(),
		[]byte(o.Market),
		[]byte{byte(o.OrderType)},
		[]byte{byte(o.Side)},
		be64(o.QuantityInPips),
		boolByte(o.IsQuantityInQuote),
		be64(o.LimitPriceInPips),
		[]byte(o.ClientOrderID),
	)
}

// Hash computes the canonical digest a wallet signs to authorize a
// withdrawal. Symbol- and address-referenced withdrawals hash differently so
// the two forms can never collide.
func (w *Withdrawal) Hash() common.Hash {
	assetField := []byte(w.AssetSymbol)
	if w.ByAddress {
		assetField = w.AssetAddress.Bytes()
	}
	return crypto.Keccak256Hash(
		w.Nonce[:],
		w.Wallet.Bytes(),
		boolByte(w.ByAddress),
		assetField,
		be64(w.GrossQuantityInPips),
		be64(w.GasFeeInPips),
	)
}

// Hash computes the canonical digest of a liquidity change. On-chain
// originated changes are matched against this hash when executed; off-chain
// originated changes carry a signature over it.
func (c *LiquidityChange) Hash() common.Hash {
	return crypto.Keccak256Hash(
		[]byte{byte(c.ChangeType)},
		c.Nonce[:],
		c.Wallet.Bytes(),
		c.AssetA.Bytes(),
		c.AssetB.Bytes(),
		be64(c.AmountADesiredInPips),
		be64(c.AmountBDesiredInPips),
		be64(c.AmountAMinInPips),
		be64(c.AmountBMinInPips),
		c.To.Bytes(),
		be64(c.DeadlineMs),
	)
}

// TradeHash uniquely identifies one order-book fill for double-settlement
// detection.
func TradeHash(buyHash, sellHash common.Hash, t *Trade) common.Hash {
	return crypto.Keccak256Hash(
		buyHash.Bytes(),
		sellHash.Bytes(),
		be64(t.GrossBaseQuantityInPips),
		be64(t.GrossQuoteQuantityInPips),
		be64(t.PriceInPips),
	)
}

// PoolTradeHash uniquely identifies one pool fill of an order.
func PoolTradeHash(orderHash common.Hash, pt *PoolTrade) common.Hash {
	return crypto.Keccak256Hash(
		orderHash.Bytes(),
		be64(pt.GrossBaseQuantityInPips),
		be64(pt.GrossQuoteQuantityInPips),
	)
}
