package engine

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"SpotLedger/internal/asset"
	"SpotLedger/internal/order"
	"SpotLedger/internal/sig"
)

// nativeAddr is the ledger address of the native currency.
var nativeAddr = asset.NativeAddress

// ============================================================================
// Collaborator fakes
// ============================================================================

type fakeToken struct {
	balances map[common.Address]*big.Int
	// skim withholds part of every transfer, simulating fee-on-transfer.
	skim         *big.Int
	failTransfer bool
}

func newFakeToken() *fakeToken {
	return &fakeToken{balances: make(map[common.Address]*big.Int)}
}

func (t *fakeToken) BalanceOf(holder common.Address) (*big.Int, error) {
	if b, ok := t.balances[holder]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (t *fakeToken) TransferFrom(from, to common.Address, quantity *big.Int) error {
	if t.failTransfer {
		return errors.New("transfer reverted")
	}
	received := new(big.Int).Set(quantity)
	if t.skim != nil {
		received.Sub(received, t.skim)
	}
	cur, _ := t.BalanceOf(to)
	t.balances[to] = cur.Add(cur, received)
	return nil
}

type fakeTokens map[common.Address]*fakeToken

func (b fakeTokens) Token(address common.Address) (Token, error) {
	t, ok := b[address]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return t, nil
}

type custodyRelease struct {
	destination common.Address
	asset       common.Address
	quantity    *big.Int
}

type fakeCustodian struct {
	addr     common.Address
	releases []custodyRelease
	fail     bool
}

func (c *fakeCustodian) Address() common.Address { return c.addr }

func (c *fakeCustodian) Withdraw(destination, assetAddress common.Address, quantity *big.Int) error {
	if c.fail {
		return errors.New("custodian reverted")
	}
	c.releases = append(c.releases, custodyRelease{destination, assetAddress, new(big.Int).Set(quantity)})
	return nil
}

type fakePair struct {
	baseReserve  *big.Int
	quoteReserve *big.Int
	mints        int
	burns        int
}

func (p *fakePair) Reserves() (*big.Int, *big.Int, error) {
	return new(big.Int).Set(p.baseReserve), new(big.Int).Set(p.quoteReserve), nil
}

func (p *fakePair) Mint(common.Address, *big.Int) error { p.mints++; return nil }
func (p *fakePair) Burn(common.Address, *big.Int) error { p.burns++; return nil }

type fakePairs map[common.Address]*fakePair

func (b fakePairs) Pair(address common.Address) (Pair, error) {
	p, ok := b[address]
	if !ok {
		return nil, errors.New("unknown pair")
	}
	return p, nil
}

type fakeFactory map[[2]common.Address]common.Address

func (f fakeFactory) PairFor(baseAsset, quoteAsset common.Address) (common.Address, error) {
	addr, ok := f[[2]common.Address{baseAsset, quoteAsset}]
	if !ok {
		return common.Address{}, errors.New("no pair for assets")
	}
	return addr, nil
}

type fakeMigrationSource map[common.Address]uint64

func (s fakeMigrationSource) BalanceInPips(wallet, _ common.Address) uint64 {
	return s[wallet]
}

// ============================================================================
// Test rig
// ============================================================================

const testPropagationPeriod = 3

var (
	tokenXYZ      = common.HexToAddress("0x0000000000000000000000000000000000001001")
	pairXYZETH    = common.HexToAddress("0x0000000000000000000000000000000000002001")
	custodyVault  = common.HexToAddress("0x0000000000000000000000000000000000003001")
	factoryAddr   = common.HexToAddress("0x0000000000000000000000000000000000004001")
	testOwner     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	testDispatch  = common.HexToAddress("0x0000000000000000000000000000000000000002")
	testFeeWallet = common.HexToAddress("0x0000000000000000000000000000000000000003")
)

type rig struct {
	t         *testing.T
	engine    *Engine
	custodian *fakeCustodian
	tokens    fakeTokens
	pairs     fakePairs

	keyA, keyB       *ecdsa.PrivateKey
	walletA, walletB common.Address

	now uint64
}

func newRig(t *testing.T) *rig {
	t.Helper()

	keyA, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	keyB, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	custodian := &fakeCustodian{addr: custodyVault}
	tokens := fakeTokens{tokenXYZ: newFakeToken()}
	pairs := fakePairs{pairXYZETH: {
		baseReserve:  big.NewInt(0),
		quoteReserve: big.NewInt(0),
	}}

	e := New(Config{
		Owner:                  testOwner,
		NativeSymbol:           "ETH",
		FeeWallet:              testFeeWallet,
		ChainPropagationPeriod: testPropagationPeriod,
		Tokens:                 tokens,
		Pairs:                  pairs,
		Custodian:              custodian,
		PairFactory:            fakeFactory{{tokenXYZ, common.Address{}}: pairXYZETH},
	}, zerolog.Nop())

	r := &rig{
		t:         t,
		engine:    e,
		custodian: custodian,
		tokens:    tokens,
		pairs:     pairs,
		keyA:      keyA,
		keyB:      keyB,
		walletA:   crypto.PubkeyToAddress(keyA.PublicKey),
		walletB:   crypto.PubkeyToAddress(keyB.PublicKey),
		now:       uint64(time.Now().UnixMilli()),
	}

	r.mustCall(e.SetDispatcher, testDispatch)
	if _, err := e.SetDepositIndex(r.adminTx(), 1); err != nil {
		t.Fatalf("SetDepositIndex: %v", err)
	}
	if _, err := e.RegisterToken(r.adminTx(), tokenXYZ, "XYZ", 18); err != nil {
		t.Fatalf("RegisterToken: %v", err)
	}
	if _, err := e.ConfirmTokenRegistration(r.adminTx(), tokenXYZ, "XYZ", 18); err != nil {
		t.Fatalf("ConfirmTokenRegistration: %v", err)
	}
	return r
}

func (r *rig) mustCall(fn func(TxContext, common.Address) (Output, error), arg common.Address) {
	r.t.Helper()
	if _, err := fn(r.adminTx(), arg); err != nil {
		r.t.Fatalf("setup call: %v", err)
	}
}

func (r *rig) adminTx() TxContext {
	return TxContext{Caller: testOwner, TimestampMs: r.now}
}

func (r *rig) dispatcherTx() TxContext {
	return TxContext{Caller: testDispatch, TimestampMs: r.now}
}

func (r *rig) walletTx(wallet common.Address) TxContext {
	return TxContext{Caller: wallet, TimestampMs: r.now}
}

// fund credits a balance directly, bypassing the deposit path, for tests
// that are not about deposits.
func (r *rig) fund(wallet, assetAddress common.Address, quantityInPips uint64) {
	r.t.Helper()
	if _, err := r.engine.balances.Credit(wallet, assetAddress, quantityInPips); err != nil {
		r.t.Fatal(err)
	}
}

// advance bumps the engine sequence by n via no-op governance events.
func (r *rig) advance(n int) {
	r.t.Helper()
	for i := 0; i < n; i++ {
		if _, err := r.engine.SetFeeWallet(r.adminTx(), testFeeWallet); err != nil {
			r.t.Fatalf("advance: %v", err)
		}
	}
}

func (r *rig) sign(o *order.Order, key *ecdsa.PrivateKey) {
	r.t.Helper()
	signature, err := sig.Sign(o.Hash(), key)
	if err != nil {
		r.t.Fatal(err)
	}
	o.Signature = signature
}

func (r *rig) signWithdrawal(w *order.Withdrawal, key *ecdsa.PrivateKey) {
	r.t.Helper()
	signature, err := sig.Sign(w.Hash(), key)
	if err != nil {
		r.t.Fatal(err)
	}
	w.Signature = signature
}

func (r *rig) signChange(c *order.LiquidityChange, key *ecdsa.PrivateKey) {
	r.t.Helper()
	signature, err := sig.Sign(c.Hash(), key)
	if err != nil {
		r.t.Fatal(err)
	}
	c.Signature = signature
}

func (r *rig) newNonce() uuid.UUID {
	r.t.Helper()
	nonce, err := uuid.NewUUID()
	if err != nil {
		r.t.Fatal(err)
	}
	return nonce
}

// limitOrder builds a signed limit order on the XYZ-ETH market.
func (r *rig) limitOrder(key *ecdsa.PrivateKey, side order.Side, quantityInPips, limitPriceInPips uint64) order.Order {
	r.t.Helper()
	o := order.Order{
		Nonce:            r.newNonce(),
		Wallet:           crypto.PubkeyToAddress(key.PublicKey),
		Market:           "XYZ-ETH",
		OrderType:        order.TypeLimit,
		Side:             side,
		QuantityInPips:   quantityInPips,
		LimitPriceInPips: limitPriceInPips,
	}
	r.sign(&o, key)
	return o
}

func (r *rig) balance(wallet, assetAddress common.Address) uint64 {
	return r.engine.BalanceInPipsByAddress(wallet, assetAddress)
}
