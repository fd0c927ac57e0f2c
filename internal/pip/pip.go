// Package pip implements the ledger's fixed-point arithmetic. All balances
// and trade quantities are tracked in pips, a unit with 8 decimal places of
// precision regardless of the asset's native precision. Conversions between
// native asset units and pips always truncate toward zero.
package pip

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// Decimals is the pip precision shared by every tracked asset.
	Decimals uint8 = 8

	// MaxDecimals bounds the native precision accepted at token registration.
	MaxDecimals uint8 = 32
)

var (
	ErrInvalidDecimals  = errors.New("invalid decimals")
	ErrNegativeQuantity = errors.New("quantity must not be negative")
	ErrPipOverflow      = errors.New("pip quantity overflows uint64")
)

// pow10 caches 10^0 .. 10^MaxDecimals so conversion never allocates the
// exponent table on the hot path. Entries are treated as read-only.
var pow10 [MaxDecimals + 1]*big.Int

func init() {
	ten := big.NewInt(10)
	pow10[0] = big.NewInt(1)
	for i := 1; i <= int(MaxDecimals); i++ {
		pow10[i] = new(big.Int).Mul(pow10[i-1], ten)
	}
}

// AssetUnitsToPips converts a quantity expressed in an asset's native units
// into pips. Precision beyond 8 decimals is discarded by floor division, so
// sub-pip dust never enters the ledger.
func AssetUnitsToPips(quantity *big.Int, decimals uint8) (uint64, error) {
	if decimals > MaxDecimals {
		return 0, ErrInvalidDecimals
	}
	if quantity.Sign() < 0 {
		return 0, ErrNegativeQuantity
	}
	v := new(big.Int).Set(quantity)
	if decimals > Decimals {
		v.Quo(v, pow10[decimals-Decimals])
	} else {
		v.Mul(v, pow10[Decimals-decimals])
	}
	if !v.IsUint64() {
		return 0, ErrPipOverflow
	}
	return v.Uint64(), nil
}

// PipsToAssetUnits converts pips back into native asset units. For assets
// with fewer than 8 decimals the conversion floors, which is why callers
// must truncate deposits to pip precision before moving funds.
func PipsToAssetUnits(quantity uint64, decimals uint8) (*big.Int, error) {
	if decimals > MaxDecimals {
		return nil, ErrInvalidDecimals
	}
	v := new(big.Int).SetUint64(quantity)
	if decimals > Decimals {
		return v.Mul(v, pow10[decimals-Decimals]), nil
	}
	return v.Quo(v, pow10[Decimals-decimals]), nil
}

// MultiplyFraction computes floor(quantity * numerator / denominator) over
// 256-bit intermediaries. It reports ErrPipOverflow if the result does not
// fit a uint64 and panics on a zero denominator, which is always a caller
// bug rather than an input condition.
func MultiplyFraction(quantity, numerator, denominator uint64) (uint64, error) {
	if denominator == 0 {
		panic("pip: zero denominator")
	}
	product := new(uint256.Int).Mul(
		uint256.NewInt(quantity),
		uint256.NewInt(numerator),
	)
	product.Div(product, uint256.NewInt(denominator))
	if !product.IsUint64() {
		return 0, ErrPipOverflow
	}
	return product.Uint64(), nil
}

// Sqrt returns the integer square root floor(sqrt(n)) using Newton's method
// with a monotonically decreasing iterate. Exact for perfect squares.
func Sqrt(n *uint256.Int) *uint256.Int {
	if n.IsZero() {
		return uint256.NewInt(0)
	}
	z := new(uint256.Int).Set(n)
	x := new(uint256.Int).Rsh(n, 1)
	x.AddUint64(x, 1)
	t := new(uint256.Int)
	for x.Lt(z) {
		z.Set(x)
		t.Div(n, x)
		t.Add(t, x)
		x.Rsh(t, 1)
	}
	return z
}
