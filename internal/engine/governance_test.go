package engine

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"SpotLedger/internal/order"
)

// ============================================================================
// Role gating
// ============================================================================

func TestGovernanceRequiresRole(t *testing.T) {
	r := newRig(t)
	outsider := TxContext{Caller: r.walletA, TimestampMs: r.now}

	if _, err := r.engine.SetAdmin(outsider, r.walletB); !errors.Is(err, ErrNotOwner) {
		t.Errorf("SetAdmin by outsider: got %v, want ErrNotOwner", err)
	}
	if _, err := r.engine.SetDispatcher(outsider, r.walletB); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("SetDispatcher by outsider: got %v, want ErrNotAdmin", err)
	}
	if _, err := r.engine.SetFeeWallet(outsider, r.walletB); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("SetFeeWallet by outsider: got %v, want ErrNotAdmin", err)
	}
	if _, err := r.engine.RegisterToken(outsider, tokenXYZ, "ABC", 6); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("RegisterToken by outsider: got %v, want ErrNotAdmin", err)
	}
}

func TestAdminGrantAndRevoke(t *testing.T) {
	r := newRig(t)

	if _, err := r.engine.SetAdmin(r.adminTx(), r.walletA); err != nil {
		t.Fatalf("SetAdmin: %v", err)
	}
	if !r.engine.IsAdmin(r.walletA) {
		t.Fatal("walletA should be admin")
	}

	// Delegated admin can now perform admin calls.
	if _, err := r.engine.SetFeeWallet(r.walletTx(r.walletA), testFeeWallet); err != nil {
		t.Errorf("admin call by delegated admin: %v", err)
	}

	if _, err := r.engine.RemoveAdmin(r.adminTx(), r.walletA); err != nil {
		t.Fatalf("RemoveAdmin: %v", err)
	}
	if r.engine.IsAdmin(r.walletA) {
		t.Error("walletA should no longer be admin")
	}
	if _, err := r.engine.RemoveAdmin(r.adminTx(), testOwner); err == nil {
		t.Error("owner admin rights must not be removable")
	}
}

func TestDispatcherKillSwitch(t *testing.T) {
	r := newRig(t)
	r.fund(r.walletA, common.Address{}, 100)

	if _, err := r.engine.RemoveDispatcher(r.adminTx()); err != nil {
		t.Fatalf("RemoveDispatcher: %v", err)
	}
	buy := r.limitOrder(r.keyA, order.SideBuy, 1, 1)
	sell := r.limitOrder(r.keyB, order.SideSell, 1, 1)
	if _, err := r.engine.ExecuteOrderBookTrade(r.dispatcherTx(), buy, sell, testTrade(1, 1)); !errors.Is(err, ErrNotDispatcher) {
		t.Errorf("settlement after kill switch: got %v, want ErrNotDispatcher", err)
	}
}

// ============================================================================
// One-shot settings
// ============================================================================

func TestOneShotSettings(t *testing.T) {
	r := newRig(t)

	if _, err := r.engine.SetDepositIndex(r.adminTx(), 5); !errors.Is(err, ErrAlreadySet) {
		t.Errorf("second SetDepositIndex: got %v, want ErrAlreadySet", err)
	}
	if _, err := r.engine.SetCustodian(r.adminTx(), r.custodian); !errors.Is(err, ErrAlreadySet) {
		t.Errorf("SetCustodian with custodian bound: got %v, want ErrAlreadySet", err)
	}
	if _, err := r.engine.SetPairFactory(r.adminTx(), factoryAddr, fakeFactory{}); !errors.Is(err, ErrAlreadySet) {
		t.Errorf("SetPairFactory with factory bound: got %v, want ErrAlreadySet", err)
	}
}

func TestSetDepositIndexZero(t *testing.T) {
	e := New(Config{Owner: testOwner, NativeSymbol: "ETH", FeeWallet: testFeeWallet}, zerolog.Nop())
	tx := TxContext{Caller: testOwner, TimestampMs: 1}
	if _, err := e.SetDepositIndex(tx, 0); !errors.Is(err, ErrMustBeNonzero) {
		t.Errorf("SetDepositIndex(0): got %v, want ErrMustBeNonzero", err)
	}
	if e.DepositsEnabled() {
		t.Error("deposits must stay disabled after rejected index")
	}
}

func TestSetChainPropagationPeriodBounds(t *testing.T) {
	r := newRig(t)

	if _, err := r.engine.SetChainPropagationPeriod(r.adminTx(), maxChainPropagationPeriod+1); !errors.Is(err, ErrPeriodTooLarge) {
		t.Errorf("oversized period: got %v, want ErrPeriodTooLarge", err)
	}
	if _, err := r.engine.SetChainPropagationPeriod(r.adminTx(), 100); err != nil {
		t.Fatalf("SetChainPropagationPeriod: %v", err)
	}
	if got := r.engine.ChainPropagationPeriod(); got != 100 {
		t.Errorf("period = %d, want 100", got)
	}
}

func TestZeroAddressRejected(t *testing.T) {
	r := newRig(t)
	zero := common.Address{}

	if _, err := r.engine.SetAdmin(r.adminTx(), zero); !errors.Is(err, ErrZeroAddress) {
		t.Errorf("SetAdmin(0): got %v, want ErrZeroAddress", err)
	}
	if _, err := r.engine.SetDispatcher(r.adminTx(), zero); !errors.Is(err, ErrZeroAddress) {
		t.Errorf("SetDispatcher(0): got %v, want ErrZeroAddress", err)
	}
	if _, err := r.engine.SetFeeWallet(r.adminTx(), zero); !errors.Is(err, ErrZeroAddress) {
		t.Errorf("SetFeeWallet(0): got %v, want ErrZeroAddress", err)
	}
}

// Governance idempotency keys must stay unique across a restart: a replayed
// engine continuing with the same field must not reissue a key that is
// already journaled under a unique index.
func TestGovernanceKeysUniqueAcrossReplay(t *testing.T) {
	r := newRig(t)
	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		out, err := r.engine.SetFeeWallet(r.adminTx(), testFeeWallet)
		if err != nil {
			t.Fatal(err)
		}
		if seen[out.Envelope.IdempotencyKey] {
			t.Fatalf("duplicate governance key %q", out.Envelope.IdempotencyKey)
		}
		seen[out.Envelope.IdempotencyKey] = true
	}

	// A fresh engine that replays the journal and then issues another
	// change for the same field must mint a new key.
	source := New(Config{Owner: testOwner, NativeSymbol: "ETH", FeeWallet: testFeeWallet}, zerolog.Nop())
	var journal []Output
	for i := 0; i < 2; i++ {
		out, err := source.SetFeeWallet(TxContext{Caller: testOwner, TimestampMs: r.now}, testFeeWallet)
		if err != nil {
			t.Fatal(err)
		}
		journal = append(journal, out)
	}

	restored := New(Config{Owner: testOwner, NativeSymbol: "ETH", FeeWallet: testFeeWallet}, zerolog.Nop())
	for _, out := range journal {
		if err := restored.Restore(out.Envelope, out.Transfers); err != nil {
			t.Fatalf("restore: %v", err)
		}
	}
	out, err := restored.SetFeeWallet(TxContext{Caller: testOwner, TimestampMs: r.now}, testFeeWallet)
	if err != nil {
		t.Fatal(err)
	}
	for _, prior := range journal {
		if out.Envelope.IdempotencyKey == prior.Envelope.IdempotencyKey {
			t.Fatalf("post-replay governance key %q collides with journaled key", out.Envelope.IdempotencyKey)
		}
	}
}

func TestGovernanceEventsAdvanceSequence(t *testing.T) {
	r := newRig(t)
	before := r.engine.Sequence()
	out, err := r.engine.SetFeeWallet(r.adminTx(), testFeeWallet)
	if err != nil {
		t.Fatal(err)
	}
	if out.Envelope.Sequence != before+1 {
		t.Errorf("event sequence = %d, want %d", out.Envelope.Sequence, before+1)
	}
	if r.engine.Sequence() != before+1 {
		t.Errorf("engine sequence = %d, want %d", r.engine.Sequence(), before+1)
	}
}
