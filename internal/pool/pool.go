// Package pool implements the hybrid-liquidity AMM: constant-product pools
// whose reserves are tracked in pips alongside the order-book ledger. Pool
// state mutates only through the engine loop; the external pair contract is
// informed after the fact and never consulted for math.
package pool

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"SpotLedger/internal/pip"
)

var (
	ErrPoolExists         = errors.New("pool already exists for market")
	ErrNoPoolForMarket    = errors.New("no pool for market")
	ErrEmptyReserves      = errors.New("reserves must be nonzero")
	ErrProductWouldShrink = errors.New("constant product would decrease")
	ErrInsufficientShares = errors.New("insufficient liquidity shares")
)

// Pool is one base/quote liquidity pool. TotalLiquidityInPips is the supply
// of outstanding LP shares; the shares themselves live in the balance book
// under the pair address, so they trade and exit like any other asset.
type Pool struct {
	BaseAssetAddress     common.Address
	QuoteAssetAddress    common.Address
	PairAddress          common.Address
	BaseReserveInPips    uint64
	QuoteReserveInPips   uint64
	TotalLiquidityInPips uint64
}

// Product returns baseReserve * quoteReserve over 128 significant bits.
func (p *Pool) Product() *uint256.Int {
	return new(uint256.Int).Mul(
		uint256.NewInt(p.BaseReserveInPips),
		uint256.NewInt(p.QuoteReserveInPips),
	)
}

// ConstantProductOut prices a swap: the output reserve released for amountIn
// added to the input reserve, flooring in the pool's favor.
//
//	out = floor(reserveOut * amountIn / (reserveIn + amountIn))
func ConstantProductOut(reserveIn, reserveOut, amountIn uint64) uint64 {
	if amountIn == 0 || reserveOut == 0 {
		return 0
	}
	numerator := new(uint256.Int).Mul(
		uint256.NewInt(reserveOut),
		uint256.NewInt(amountIn),
	)
	denominator := new(uint256.Int).AddUint64(
		uint256.NewInt(reserveIn),
		amountIn,
	)
	return numerator.Div(numerator, denominator).Uint64()
}

// SharesForDeposit values a reserve contribution in LP shares. The first
// deposit mints the geometric mean of the contributed amounts; later deposits
// mint proportionally to the smaller side, so unbalanced contributions
// forfeit the excess to the pool.
func (p *Pool) SharesForDeposit(baseQuantity, quoteQuantity uint64) (uint64, error) {
	if p.TotalLiquidityInPips == 0 {
		product := new(uint256.Int).Mul(
			uint256.NewInt(baseQuantity),
			uint256.NewInt(quoteQuantity),
		)
		return pip.Sqrt(product).Uint64(), nil
	}
	fromBase, err := pip.MultiplyFraction(baseQuantity, p.TotalLiquidityInPips, p.BaseReserveInPips)
	if err != nil {
		return 0, err
	}
	fromQuote, err := pip.MultiplyFraction(quoteQuantity, p.TotalLiquidityInPips, p.QuoteReserveInPips)
	if err != nil {
		return 0, err
	}
	if fromQuote < fromBase {
		return fromQuote, nil
	}
	return fromBase, nil
}

// OutputForShares values an LP share redemption as the proportional slice of
// both reserves, floored.
func (p *Pool) OutputForShares(shares uint64) (baseQuantity, quoteQuantity uint64, err error) {
	if shares > p.TotalLiquidityInPips {
		return 0, 0, ErrInsufficientShares
	}
	if baseQuantity, err = pip.MultiplyFraction(p.BaseReserveInPips, shares, p.TotalLiquidityInPips); err != nil {
		return 0, 0, err
	}
	if quoteQuantity, err = pip.MultiplyFraction(p.QuoteReserveInPips, shares, p.TotalLiquidityInPips); err != nil {
		return 0, 0, err
	}
	return baseQuantity, quoteQuantity, nil
}

type marketKey struct {
	base  common.Address
	quote common.Address
}

// Registry holds every promoted pool, keyed by ordered (base, quote) pair.
type Registry struct {
	pools map[marketKey]*Pool
}

func NewRegistry() *Registry {
	return &Registry{pools: make(map[marketKey]*Pool)}
}

// Promote creates the pool for a market from the reserves observed on the
// external pair at promotion time. A market gets at most one pool, ever.
func (r *Registry) Promote(baseAsset, quoteAsset, pairAddress common.Address, baseReserve, quoteReserve uint64) (*Pool, error) {
	k := marketKey{base: baseAsset, quote: quoteAsset}
	if _, ok := r.pools[k]; ok {
		return nil, ErrPoolExists
	}
	if baseReserve == 0 || quoteReserve == 0 {
		return nil, ErrEmptyReserves
	}
	p := &Pool{
		BaseAssetAddress:   baseAsset,
		QuoteAssetAddress:  quoteAsset,
		PairAddress:        pairAddress,
		BaseReserveInPips:  baseReserve,
		QuoteReserveInPips: quoteReserve,
	}
	product := p.Product()
	p.TotalLiquidityInPips = pip.Sqrt(product).Uint64()
	r.pools[k] = p
	return p, nil
}

// ByAssets returns the pool for a base/quote pair.
func (r *Registry) ByAssets(baseAsset, quoteAsset common.Address) (*Pool, error) {
	p, ok := r.pools[marketKey{base: baseAsset, quote: quoteAsset}]
	if !ok {
		return nil, ErrNoPoolForMarket
	}
	return p, nil
}

// ByPairAddress finds the pool whose LP shares live under pairAddress.
func (r *Registry) ByPairAddress(pairAddress common.Address) (*Pool, error) {
	for _, p := range r.pools {
		if p.PairAddress == pairAddress {
			return p, nil
		}
	}
	return nil, ErrNoPoolForMarket
}

// All returns every promoted pool.
func (r *Registry) All() []*Pool {
	out := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	return out
}
