// Package engine implements the settlement core: a deterministic state
// machine owning the asset registry, balance book, liquidity pools, nonce
// table, and exit records. Every mutating call validates fully before
// touching state, applies all deltas, updates ledger state before any
// external collaborator call, and emits exactly one sealed event on success.
// A failed call leaves state untouched.
//
// The engine is single-threaded. Loop serializes calls onto it; nothing else
// may invoke mutating methods concurrently.
package engine

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"SpotLedger/internal/asset"
	"SpotLedger/internal/event"
	"SpotLedger/internal/ledger"
	"SpotLedger/internal/observability"
	"SpotLedger/internal/pool"
	"SpotLedger/internal/sig"
)

// maxChainPropagationPeriod bounds the exit and nonce-invalidation delay to
// roughly one week of 15-second blocks.
const maxChainPropagationPeriod = 40320

// maxFeeBasisPoints caps every fee component at 20% of its gross quantity.
const maxFeeBasisPoints = 2000

// maxNonceFutureDriftMs tolerates dispatcher/wallet clock skew of 48 hours
// when checking that a nonce is not dated in the future.
const maxNonceFutureDriftMs = 48 * 60 * 60 * 1000

var (
	ErrNotOwner      = errors.New("caller must be owner")
	ErrNotAdmin      = errors.New("caller must be admin")
	ErrNotDispatcher = errors.New("caller must be dispatcher")
	ErrWalletExited  = errors.New("wallet exited")
)

// Token is the engine's view of an external fungible token contract.
type Token interface {
	BalanceOf(holder common.Address) (*big.Int, error)
	TransferFrom(from, to common.Address, quantityInAssetUnits *big.Int) error
}

// TokenBinder resolves a token address to a live Token binding.
type TokenBinder interface {
	Token(address common.Address) (Token, error)
}

// Custodian is the vault holding all funds. The engine's only capability
// against it is releasing funds to a destination wallet.
type Custodian interface {
	Address() common.Address
	Withdraw(destination, assetAddress common.Address, quantityInAssetUnits *big.Int) error
}

// Pair is the engine's view of an external AMM pair contract. The engine
// keeps its own reserve bookkeeping; the pair is read once at promotion and
// notified of share mints and burns afterward.
type Pair interface {
	Reserves() (baseInAssetUnits, quoteInAssetUnits *big.Int, err error)
	Mint(to common.Address, liquidityInAssetUnits *big.Int) error
	Burn(from common.Address, liquidityInAssetUnits *big.Int) error
}

// PairBinder resolves a pair address to a live Pair binding.
type PairBinder interface {
	Pair(address common.Address) (Pair, error)
}

// PairFactory maps an asset pair to its canonical pair contract address.
type PairFactory interface {
	PairFor(baseAsset, quoteAsset common.Address) (common.Address, error)
}

// TxContext carries the identity and ordering facts the shell assigns to one
// settlement call. TimestampMs is the versioned input time stamped at
// ingestion; the engine never reads the wall clock.
type TxContext struct {
	Caller      common.Address
	TimestampMs uint64
}

// Output is the result of one successful mutation: the sealed event plus the
// balance transfers it applied, ready for journaling and publication.
type Output struct {
	Envelope  event.Envelope
	Transfers []ledger.Transfer
}

type nonceInvalidation struct {
	timestampMs       uint64
	effectiveSequence uint64
}

type walletExit struct {
	exited            bool
	effectiveSequence uint64
}

// Engine is the settlement state machine.
type Engine struct {
	log     zerolog.Logger
	metrics *observability.Metrics

	assets   *asset.Registry
	balances *ledger.Balances
	pools    *pool.Registry
	verifier sig.Verifier

	tokens      TokenBinder
	pairs       PairBinder
	custodian   Custodian
	pairFactory PairFactory

	owner      common.Address
	admins     map[common.Address]bool
	dispatcher common.Address
	feeWallet  common.Address

	chainPropagationPeriod uint64
	minimumDepositInPips   uint64

	// depositIndex is nil until deposits are enabled, then counts deposits.
	depositIndex *uint64

	migrationSource ledger.Source
	migratedWallets map[common.Address]bool

	nonceInvalidations map[common.Address]nonceInvalidation
	walletExits        map[common.Address]walletExit

	settledHashes    map[common.Hash]bool
	filledQuantities map[common.Hash]uint64
	liquidityIntents map[common.Hash]bool

	sequence uint64
	prevHash [32]byte
}

// Config carries construction-time settings; everything else is mutated
// through governance calls.
type Config struct {
	Owner                  common.Address
	NativeSymbol           string
	FeeWallet              common.Address
	ChainPropagationPeriod uint64
	MinimumDepositInPips   uint64
	Tokens                 TokenBinder
	Pairs                  PairBinder
	Custodian              Custodian
	PairFactory            PairFactory
	Verifier               sig.Verifier
	MigrationSource        ledger.Source
	Metrics                *observability.Metrics
}

func New(cfg Config, log zerolog.Logger) *Engine {
	verifier := cfg.Verifier
	if verifier == nil {
		verifier = sig.EthVerifier{}
	}
	propagation := cfg.ChainPropagationPeriod
	if propagation == 0 || propagation > maxChainPropagationPeriod {
		propagation = maxChainPropagationPeriod
	}
	minimum := cfg.MinimumDepositInPips
	if minimum == 0 {
		minimum = 1
	}
	return &Engine{
		log:                    log.With().Str("component", "engine").Logger(),
		metrics:                cfg.Metrics,
		assets:                 asset.NewRegistry(cfg.NativeSymbol),
		balances:               ledger.NewBalances(),
		pools:                  pool.NewRegistry(),
		verifier:               verifier,
		tokens:                 cfg.Tokens,
		pairs:                  cfg.Pairs,
		custodian:              cfg.Custodian,
		pairFactory:            cfg.PairFactory,
		owner:                  cfg.Owner,
		admins:                 map[common.Address]bool{cfg.Owner: true},
		feeWallet:              cfg.FeeWallet,
		chainPropagationPeriod: propagation,
		minimumDepositInPips:   minimum,
		migrationSource:        cfg.MigrationSource,
		migratedWallets:        make(map[common.Address]bool),
		nonceInvalidations:     make(map[common.Address]nonceInvalidation),
		walletExits:            make(map[common.Address]walletExit),
		settledHashes:          make(map[common.Hash]bool),
		filledQuantities:       make(map[common.Hash]uint64),
		liquidityIntents:       make(map[common.Hash]bool),
	}
}

// Sequence returns the number of events applied so far. It doubles as the
// block number for the propagation-delay arithmetic.
func (e *Engine) Sequence() uint64 { return e.sequence }

// seal assigns the next sequence to the event and chains it onto the log.
// Must only be called after every validation has passed: an applied mutation
// without its event would desynchronize the log from state.
func (e *Engine) seal(ev event.Event, timestampMs uint64, transfers []ledger.Transfer) (Output, error) {
	env, err := event.Seal(ev, e.sequence+1, timestampMs, e.prevHash)
	if err != nil {
		return Output{}, err
	}
	e.sequence++
	e.prevHash = env.Hash
	if e.metrics != nil {
		e.metrics.EventsApplied.WithLabelValues(env.EventType.String()).Inc()
		e.metrics.EngineSequence.Set(float64(e.sequence))
	}
	e.log.Debug().
		Uint64("sequence", env.Sequence).
		Str("type", env.EventType.String()).
		Str("key", env.IdempotencyKey).
		Msg("event applied")
	return Output{Envelope: env, Transfers: transfers}, nil
}

func (e *Engine) requireOwner(tx TxContext) error {
	if tx.Caller != e.owner {
		return ErrNotOwner
	}
	return nil
}

func (e *Engine) requireAdmin(tx TxContext) error {
	if !e.admins[tx.Caller] {
		return ErrNotAdmin
	}
	return nil
}

func (e *Engine) requireDispatcher(tx TxContext) error {
	if e.dispatcher == (common.Address{}) || tx.Caller != e.dispatcher {
		return ErrNotDispatcher
	}
	return nil
}

// exitStatus reports whether a wallet has an exit on record and whether the
// propagation delay has elapsed.
func (e *Engine) exitStatus(wallet common.Address) (exited, finalized bool) {
	x := e.walletExits[wallet]
	if !x.exited {
		return false, false
	}
	return true, e.sequence >= x.effectiveSequence
}

func (e *Engine) requireNotExited(wallet common.Address) error {
	if exited, _ := e.exitStatus(wallet); exited {
		return ErrWalletExited
	}
	return nil
}
