package engine

import (
	"errors"
	"testing"

	"SpotLedger/internal/ledger"
	"SpotLedger/internal/order"
	"SpotLedger/internal/pip"
)

func (r *rig) withdrawal(quantityInPips, gasFeeInPips uint64) order.Withdrawal {
	r.t.Helper()
	w := order.Withdrawal{
		Nonce:               r.newNonce(),
		Wallet:              r.walletA,
		AssetSymbol:         "XYZ",
		GrossQuantityInPips: quantityInPips,
		GasFeeInPips:        gasFeeInPips,
	}
	r.signWithdrawal(&w, r.keyA)
	return w
}

func TestWithdrawBySymbol(t *testing.T) {
	r := newRig(t)
	r.fund(r.walletA, tokenXYZ, 10_00000000)

	w := r.withdrawal(4_00000000, 1000000) // 4.0 gross, 0.01 gas fee
	out, err := r.engine.Withdraw(r.dispatcherTx(), w)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := r.balance(r.walletA, tokenXYZ); got != 6_00000000 {
		t.Errorf("wallet balance = %d, want 600000000", got)
	}
	if got := r.balance(testFeeWallet, tokenXYZ); got != 1000000 {
		t.Errorf("fee wallet balance = %d, want 1000000", got)
	}

	// The custodian released the net quantity in asset units.
	if len(r.custodian.releases) != 1 {
		t.Fatalf("custodian releases = %d, want 1", len(r.custodian.releases))
	}
	rel := r.custodian.releases[0]
	net, err := pip.PipsToAssetUnits(3_99000000, 18)
	if err != nil {
		t.Fatal(err)
	}
	if rel.destination != r.walletA || rel.asset != tokenXYZ || rel.quantity.Cmp(net) != 0 {
		t.Errorf("release = %+v, want %s of XYZ to walletA", rel, net)
	}
	if len(out.Transfers) != 2 {
		t.Errorf("transfer journal entries = %d, want 2", len(out.Transfers))
	}
}

func TestWithdrawByAddress(t *testing.T) {
	r := newRig(t)
	r.fund(r.walletA, tokenXYZ, 1_00000000)

	w := order.Withdrawal{
		Nonce:               r.newNonce(),
		Wallet:              r.walletA,
		AssetAddress:        tokenXYZ,
		ByAddress:           true,
		GrossQuantityInPips: 1_00000000,
	}
	r.signWithdrawal(&w, r.keyA)
	if _, err := r.engine.Withdraw(r.dispatcherTx(), w); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := r.balance(r.walletA, tokenXYZ); got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
}

func TestWithdrawReplayRejected(t *testing.T) {
	r := newRig(t)
	r.fund(r.walletA, tokenXYZ, 10_00000000)

	w := r.withdrawal(1_00000000, 0)
	if _, err := r.engine.Withdraw(r.dispatcherTx(), w); err != nil {
		t.Fatal(err)
	}
	if _, err := r.engine.Withdraw(r.dispatcherTx(), w); !errors.Is(err, ErrWithdrawalAlreadySettled) {
		t.Errorf("replay: got %v, want ErrWithdrawalAlreadySettled", err)
	}
	if got := r.balance(r.walletA, tokenXYZ); got != 9_00000000 {
		t.Errorf("balance = %d, want single debit 900000000", got)
	}
}

func TestWithdrawBadSignature(t *testing.T) {
	r := newRig(t)
	r.fund(r.walletA, tokenXYZ, 1_00000000)

	w := r.withdrawal(1_00000000, 0)
	w.Wallet = r.walletB // signature no longer matches the stated wallet
	r.signWithdrawal(&w, r.keyA)
	if _, err := r.engine.Withdraw(r.dispatcherTx(), w); !errors.Is(err, ErrInvalidWithdrawalSigner) {
		t.Errorf("forged wallet: got %v, want ErrInvalidWithdrawalSigner", err)
	}
}

func TestWithdrawGasFeeCap(t *testing.T) {
	r := newRig(t)
	r.fund(r.walletA, tokenXYZ, 10_00000000)

	// 20% of 1.0 is the cap; one pip over must fail.
	w := r.withdrawal(1_00000000, 20000001)
	if _, err := r.engine.Withdraw(r.dispatcherTx(), w); !errors.Is(err, ErrExcessiveWithdrawalFee) {
		t.Errorf("over-cap fee: got %v, want ErrExcessiveWithdrawalFee", err)
	}
	w = r.withdrawal(1_00000000, 20000000)
	if _, err := r.engine.Withdraw(r.dispatcherTx(), w); err != nil {
		t.Errorf("at-cap fee: %v", err)
	}
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	r := newRig(t)
	r.fund(r.walletA, tokenXYZ, 50000000)

	w := r.withdrawal(1_00000000, 0)
	if _, err := r.engine.Withdraw(r.dispatcherTx(), w); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("overdraw: got %v, want ErrInsufficientBalance", err)
	}
}

func TestWithdrawRequiresDispatcher(t *testing.T) {
	r := newRig(t)
	r.fund(r.walletA, tokenXYZ, 1_00000000)

	w := r.withdrawal(1_00000000, 0)
	if _, err := r.engine.Withdraw(r.walletTx(r.walletA), w); !errors.Is(err, ErrNotDispatcher) {
		t.Errorf("self-serve withdraw: got %v, want ErrNotDispatcher", err)
	}
}

// A custodian failure unwinds the ledger debit and the replay mark.
func TestWithdrawCustodianFailureRollsBack(t *testing.T) {
	r := newRig(t)
	r.fund(r.walletA, tokenXYZ, 10_00000000)
	r.custodian.fail = true

	w := r.withdrawal(1_00000000, 1000000)
	if _, err := r.engine.Withdraw(r.dispatcherTx(), w); err == nil {
		t.Fatal("withdraw must fail when custodian reverts")
	}
	if got := r.balance(r.walletA, tokenXYZ); got != 10_00000000 {
		t.Errorf("wallet balance = %d, want untouched 1000000000", got)
	}
	if got := r.balance(testFeeWallet, tokenXYZ); got != 0 {
		t.Errorf("fee wallet balance = %d, want 0", got)
	}

	// The same withdrawal settles once the custodian recovers.
	r.custodian.fail = false
	if _, err := r.engine.Withdraw(r.dispatcherTx(), w); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
}
