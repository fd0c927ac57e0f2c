package asset

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

// ============================================================================
// Two-step registration
// ============================================================================

func TestRegisterAndConfirm(t *testing.T) {
	r := NewRegistry("ETH")

	if err := r.Register(tokenA, "USD", 6); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Pending registrations are invisible to lookups.
	if _, err := r.ByAddress(tokenA); err != ErrUnknownAsset {
		t.Errorf("unconfirmed lookup: got %v, want ErrUnknownAsset", err)
	}
	if _, ok := r.Pending(tokenA); !ok {
		t.Error("expected pending registration")
	}

	if err := r.Confirm(tokenA, "USD", 6, 1000); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	a, err := r.ByAddress(tokenA)
	if err != nil {
		t.Fatalf("ByAddress: %v", err)
	}
	if a.Symbol != "USD" || a.Decimals != 6 || !a.IsConfirmed {
		t.Errorf("unexpected asset: %+v", a)
	}

	if _, ok := r.Pending(tokenA); ok {
		t.Error("confirmed asset still reported pending")
	}
}

func TestConfirmMismatches(t *testing.T) {
	r := NewRegistry("ETH")
	if err := r.Register(tokenA, "USD", 6); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := r.Confirm(tokenA, "USDT", 6, 0); err != ErrConfirmationMismatch {
		t.Errorf("symbol mismatch: got %v", err)
	}
	if err := r.Confirm(tokenA, "USD", 18, 0); err != ErrDecimalsMismatch {
		t.Errorf("decimals mismatch: got %v", err)
	}
	if err := r.Confirm(tokenB, "USD", 6, 0); err != ErrNotRegistered {
		t.Errorf("unregistered confirm: got %v", err)
	}

	if err := r.Confirm(tokenA, "USD", 6, 0); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if err := r.Confirm(tokenA, "USD", 6, 0); err != ErrAlreadyRegistered {
		t.Errorf("double confirm: got %v", err)
	}
	if err := r.Register(tokenA, "USD2", 6); err != ErrAlreadyRegistered {
		t.Errorf("re-register confirmed: got %v", err)
	}
}

func TestRegisterRejectsNativeAndBadDecimals(t *testing.T) {
	r := NewRegistry("ETH")
	if err := r.Register(NativeAddress, "WETH", 18); err != ErrNativeAssetNotRegisterable {
		t.Errorf("native register: got %v", err)
	}
	if err := r.Register(tokenA, "BAD", 33); err == nil {
		t.Error("expected error for 33 decimals")
	}
	if err := r.Register(tokenA, "", 8); err == nil {
		t.Error("expected error for empty symbol")
	}
}

// An unconfirmed registration can be corrected by registering again.
func TestReRegisterBeforeConfirm(t *testing.T) {
	r := NewRegistry("ETH")
	if err := r.Register(tokenA, "USDD", 8); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(tokenA, "USD", 6); err != nil {
		t.Fatalf("re-Register: %v", err)
	}
	if err := r.Confirm(tokenA, "USD", 6, 0); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
}

// ============================================================================
// Symbol resolution
// ============================================================================

func TestBySymbolHistory(t *testing.T) {
	r := NewRegistry("ETH")

	// "USD" points at tokenA from t=1000, then at tokenB from t=2000.
	if err := r.Register(tokenA, "USD", 6); err != nil {
		t.Fatal(err)
	}
	if err := r.Confirm(tokenA, "USD", 6, 1000); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(tokenB, "USD", 18); err != nil {
		t.Fatal(err)
	}
	if err := r.Confirm(tokenB, "USD", 18, 2000); err != nil {
		t.Fatal(err)
	}

	a, err := r.BySymbol("USD", 1500)
	if err != nil {
		t.Fatalf("BySymbol@1500: %v", err)
	}
	if a.Address != tokenA {
		t.Errorf("at t=1500 USD should resolve to tokenA, got %s", a.Address)
	}

	a, err = r.BySymbol("USD", 2000)
	if err != nil {
		t.Fatalf("BySymbol@2000: %v", err)
	}
	if a.Address != tokenB {
		t.Errorf("at t=2000 USD should resolve to tokenB, got %s", a.Address)
	}

	// Before the first assignment the symbol does not exist.
	if _, err := r.BySymbol("USD", 999); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("pre-history lookup: got %v, want ErrUnknownSymbol", err)
	}
	if _, err := r.BySymbol("NOPE", 5000); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("unknown symbol: got %v, want ErrUnknownSymbol", err)
	}
}

func TestNativeSymbol(t *testing.T) {
	r := NewRegistry("ETH")
	a, err := r.BySymbol("ETH", 0)
	if err != nil {
		t.Fatalf("BySymbol native: %v", err)
	}
	if a.Address != NativeAddress || a.Decimals != 18 {
		t.Errorf("unexpected native asset: %+v", a)
	}
}

func TestAddSymbol(t *testing.T) {
	r := NewRegistry("ETH")
	if err := r.AddSymbol(tokenA, "ALIAS", 0); err != ErrNotConfirmed {
		t.Errorf("alias before confirm: got %v", err)
	}

	if err := r.Register(tokenA, "USD", 6); err != nil {
		t.Fatal(err)
	}
	if err := r.Confirm(tokenA, "USD", 6, 100); err != nil {
		t.Fatal(err)
	}

	if err := r.AddSymbol(tokenA, "ETH", 200); err == nil {
		t.Error("native symbol must not be reassignable")
	}
	if err := r.AddSymbol(tokenA, "USDC", 200); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}
	a, err := r.BySymbol("USDC", 200)
	if err != nil {
		t.Fatalf("BySymbol alias: %v", err)
	}
	if a.Address != tokenA {
		t.Errorf("alias resolves to %s, want tokenA", a.Address)
	}
}
