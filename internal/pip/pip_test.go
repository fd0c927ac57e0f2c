package pip

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

// ============================================================================
// Asset unit <-> pip conversion
// ============================================================================

func TestAssetUnitsToPips(t *testing.T) {
	one18, _ := new(big.Int).SetString("1000000000000000000", 10)

	tests := []struct {
		name     string
		quantity *big.Int
		decimals uint8
		want     uint64
	}{
		{"one token at 18 decimals", one18, 18, 100000000},
		{"one token at 8 decimals", big.NewInt(100000000), 8, 100000000},
		{"one token at 6 decimals", big.NewInt(1000000), 6, 100000000},
		{"one token at 0 decimals", big.NewInt(1), 0, 100000000},
		{"dust below one pip truncates to zero", big.NewInt(9999999999), 18, 0},
		{"sub-pip remainder is floored", big.NewInt(1234567891234567891), 18, 123456789},
		{"zero quantity", big.NewInt(0), 18, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AssetUnitsToPips(tt.quantity, tt.decimals)
			if err != nil {
				t.Fatalf("AssetUnitsToPips: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d pips, want %d", got, tt.want)
			}
		})
	}
}

func TestAssetUnitsToPipsErrors(t *testing.T) {
	if _, err := AssetUnitsToPips(big.NewInt(1), 33); err != ErrInvalidDecimals {
		t.Errorf("decimals > 32: got %v, want ErrInvalidDecimals", err)
	}
	if _, err := AssetUnitsToPips(big.NewInt(-1), 18); err != ErrNegativeQuantity {
		t.Errorf("negative quantity: got %v, want ErrNegativeQuantity", err)
	}

	// 2^64 pips exactly one past the representable range.
	over := new(big.Int).Lsh(big.NewInt(1), 64)
	if _, err := AssetUnitsToPips(over, 8); err != ErrPipOverflow {
		t.Errorf("overflow: got %v, want ErrPipOverflow", err)
	}

	// A low-decimal asset scales up, so a quantity far below 2^64 can still
	// overflow once expressed in pips.
	if _, err := AssetUnitsToPips(big.NewInt(1e18), 0); err != ErrPipOverflow {
		t.Errorf("scaled overflow: got %v, want ErrPipOverflow", err)
	}
}

func TestPipsToAssetUnits(t *testing.T) {
	got, err := PipsToAssetUnits(100000000, 18)
	if err != nil {
		t.Fatalf("PipsToAssetUnits: %v", err)
	}
	want, _ := new(big.Int).SetString("1000000000000000000", 10)
	if got.Cmp(want) != 0 {
		t.Errorf("18 decimals: got %s, want %s", got, want)
	}

	got, err = PipsToAssetUnits(150000000, 6)
	if err != nil {
		t.Fatalf("PipsToAssetUnits: %v", err)
	}
	if got.Int64() != 1500000 {
		t.Errorf("6 decimals: got %s, want 1500000", got)
	}

	if _, err := PipsToAssetUnits(1, 40); err != ErrInvalidDecimals {
		t.Errorf("decimals > 32: got %v, want ErrInvalidDecimals", err)
	}
}

// Converting pips to units and back must be lossless whenever the target
// precision is at least pip precision. For coarser assets the round trip
// floors to the largest representable quantity.
func TestConversionRoundTrip(t *testing.T) {
	for _, pips := range []uint64{1, 99, 100000000, 123456789123} {
		units, err := PipsToAssetUnits(pips, 18)
		if err != nil {
			t.Fatalf("PipsToAssetUnits: %v", err)
		}
		back, err := AssetUnitsToPips(units, 18)
		if err != nil {
			t.Fatalf("AssetUnitsToPips: %v", err)
		}
		if back != pips {
			t.Errorf("round trip at 18 decimals: %d -> %d", pips, back)
		}
	}

	// 123456789 pips is 1.23456789; at 2 decimals only 1.23 survives.
	units, _ := PipsToAssetUnits(123456789, 2)
	if units.Int64() != 123 {
		t.Fatalf("floor to 2 decimals: got %s, want 123", units)
	}
	back, _ := AssetUnitsToPips(units, 2)
	if back != 123000000 {
		t.Errorf("coarse round trip: got %d, want 123000000", back)
	}
}

// ============================================================================
// Fraction and square root helpers
// ============================================================================

func TestMultiplyFraction(t *testing.T) {
	got, err := MultiplyFraction(100000000, 25, 10000)
	if err != nil {
		t.Fatalf("MultiplyFraction: %v", err)
	}
	if got != 250000 {
		t.Errorf("25bps of 1.0: got %d, want 250000", got)
	}

	// Intermediate product exceeds uint64 but the quotient fits.
	got, err = MultiplyFraction(1<<63, 4, 2)
	if err == nil {
		t.Errorf("expected overflow, got %d", got)
	}

	got, err = MultiplyFraction(1<<63, 2, 4)
	if err != nil {
		t.Fatalf("MultiplyFraction: %v", err)
	}
	if got != 1<<62 {
		t.Errorf("wide intermediate: got %d, want %d", got, uint64(1)<<62)
	}

	if got, err = MultiplyFraction(7, 1, 3); err != nil || got != 2 {
		t.Errorf("floor division: got %d, %v, want 2", got, err)
	}
}

func TestSqrt(t *testing.T) {
	tests := []struct {
		in   uint64
		want uint64
	}{
		{0, 0},
		{1, 1},
		{2, 1},
		{3, 1},
		{4, 2},
		{8, 2},
		{9, 3},
		{99999999, 9999},
		{100000000, 10000},
	}
	for _, tt := range tests {
		if got := Sqrt(uint256.NewInt(tt.in)); got.Uint64() != tt.want {
			t.Errorf("Sqrt(%d) = %d, want %d", tt.in, got.Uint64(), tt.want)
		}
	}

	// A perfect square far beyond uint64 range.
	root := new(uint256.Int).Lsh(uint256.NewInt(1), 100)
	square := new(uint256.Int).Mul(root, root)
	if got := Sqrt(square); !got.Eq(root) {
		t.Errorf("Sqrt(2^200) = %s, want %s", got, root)
	}
}
