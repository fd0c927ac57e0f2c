package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"SpotLedger/internal/ingestion"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

const (
	testUUID    = "550e8400-e29b-11d4-a716-446655440000"
	testWallet  = "0x0000000000000000000000000000000000000001"
	testWalletB = "0x0000000000000000000000000000000000000002"
	testToken   = "0x0000000000000000000000000000000000001001"
	testNative  = "0x0000000000000000000000000000000000000000"
	testSig     = "0x0badc0de"
)

func testOrderJSON(side string) map[string]interface{} {
	return map[string]interface{}{
		"nonce":            testUUID,
		"wallet":           testWallet,
		"market":           "XYZ-ETH",
		"type":             "limit",
		"side":             side,
		"quantity_pips":    uint64(10_00000000),
		"limit_price_pips": uint64(10000000),
		"signature":        testSig,
	}
}

func TestParseOrderBookTrade(t *testing.T) {
	payload := map[string]interface{}{
		"source_sequence": int64(7),
		"timestamp_ms":    uint64(1700000000000),
		"buy_order":       testOrderJSON("buy"),
		"sell_order":      testOrderJSON("sell"),
		"trade": map[string]interface{}{
			"base_asset":       testToken,
			"quote_asset":      testNative,
			"gross_base_pips":  uint64(10_00000000),
			"gross_quote_pips": uint64(1_00000000),
			"net_base_pips":    uint64(9_99000000),
			"net_quote_pips":   uint64(99900000),
			"maker_fee_pips":   uint64(100000),
			"taker_fee_pips":   uint64(1000000),
			"price_pips":       uint64(10000000),
			"maker_side":       "sell",
		},
	}

	instr, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "OrderBookTrade")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if instr.Operation != "ExecuteOrderBookTrade" {
		t.Errorf("operation: got %s, want ExecuteOrderBookTrade", instr.Operation)
	}
	if instr.SourceSequence != 7 {
		t.Errorf("source sequence: got %d, want 7", instr.SourceSequence)
	}
	if instr.Partition != "trades:XYZ-ETH" {
		t.Errorf("partition: got %s, want trades:XYZ-ETH", instr.Partition)
	}
	if instr.TimestampMs != 1700000000000 {
		t.Errorf("timestamp: got %d, want 1700000000000", instr.TimestampMs)
	}
	if instr.Caller != nil {
		t.Errorf("dispatcher instruction must not carry a caller override")
	}
	if instr.Apply == nil {
		t.Fatalf("apply func missing")
	}
}

func TestParseOrderBookTradeRejectsBadFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]interface{})
	}{
		{"bad nonce", func(p map[string]interface{}) {
			p["buy_order"].(map[string]interface{})["nonce"] = "not-a-uuid"
		}},
		{"bad wallet", func(p map[string]interface{}) {
			p["sell_order"].(map[string]interface{})["wallet"] = "0x123"
		}},
		{"bad signature", func(p map[string]interface{}) {
			p["buy_order"].(map[string]interface{})["signature"] = "zzzz"
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			payload := map[string]interface{}{
				"buy_order":  testOrderJSON("buy"),
				"sell_order": testOrderJSON("sell"),
				"trade": map[string]interface{}{
					"base_asset":  testToken,
					"quote_asset": testNative,
				},
			}
			tc.mutate(payload)
			if _, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "OrderBookTrade"); err == nil {
				t.Errorf("expected parse error")
			}
		})
	}
}

func TestParseWithdrawal(t *testing.T) {
	payload := map[string]interface{}{
		"source_sequence":     int64(3),
		"timestamp_ms":        uint64(1700000000000),
		"nonce":               testUUID,
		"wallet":              testWallet,
		"asset_symbol":        "ETH",
		"gross_quantity_pips": uint64(4_00000000),
		"gas_fee_pips":        uint64(1000000),
		"signature":           testSig,
	}

	instr, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "Withdrawal")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if instr.Operation != "Withdraw" {
		t.Errorf("operation: got %s, want Withdraw", instr.Operation)
	}
	if instr.Partition != "withdrawals:0x0000000000000000000000000000000000000001" {
		t.Errorf("partition: got %s", instr.Partition)
	}
}

func TestParseWithdrawalByAddressNeedsValidAddress(t *testing.T) {
	payload := map[string]interface{}{
		"nonce":               testUUID,
		"wallet":              testWallet,
		"by_address":          true,
		"asset_address":       "not-an-address",
		"gross_quantity_pips": uint64(1_00000000),
		"signature":           testSig,
	}
	if _, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "Withdrawal"); err == nil {
		t.Errorf("expected parse error for bad asset address")
	}
}

func TestParseDepositVariants(t *testing.T) {
	base := func() map[string]interface{} {
		return map[string]interface{}{
			"source_sequence":      int64(1),
			"timestamp_ms":         uint64(1700000000000),
			"wallet":               testWallet,
			"quantity_asset_units": "5000000000000000000",
		}
	}

	t.Run("native", func(t *testing.T) {
		payload := base()
		payload["native"] = true
		instr, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "Deposit")
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if instr.Caller == nil || instr.Caller.Hex() != "0x0000000000000000000000000000000000000001" {
			t.Errorf("deposit must run as the depositing wallet")
		}
	})

	t.Run("by address", func(t *testing.T) {
		payload := base()
		payload["asset_address"] = testToken
		if _, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "Deposit"); err != nil {
			t.Fatalf("parse failed: %v", err)
		}
	})

	t.Run("by symbol", func(t *testing.T) {
		payload := base()
		payload["asset_symbol"] = "XYZ"
		if _, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "Deposit"); err != nil {
			t.Fatalf("parse failed: %v", err)
		}
	})

	t.Run("no asset", func(t *testing.T) {
		if _, err := ingestion.ParseRawEvent(rawFromJSON(t, base()), "Deposit"); err == nil {
			t.Errorf("expected parse error when no asset is named")
		}
	})

	t.Run("bad quantity", func(t *testing.T) {
		payload := base()
		payload["native"] = true
		payload["quantity_asset_units"] = "1.5e18"
		if _, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "Deposit"); err == nil {
			t.Errorf("expected parse error for non-integer quantity")
		}
	})
}

func TestParseNonceInvalidationCarriesWalletCaller(t *testing.T) {
	payload := map[string]interface{}{
		"source_sequence": int64(2),
		"timestamp_ms":    uint64(1700000000000),
		"wallet":          testWalletB,
		"nonce":           testUUID,
	}

	instr, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "NonceInvalidation")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if instr.Caller == nil || instr.Caller.Hex() != "0x0000000000000000000000000000000000000002" {
		t.Errorf("nonce invalidation must run as the owning wallet")
	}
}

func TestParseLiquidityAddition(t *testing.T) {
	payload := map[string]interface{}{
		"source_sequence":       int64(4),
		"timestamp_ms":          uint64(1700000000000),
		"nonce":                 testUUID,
		"wallet":                testWallet,
		"asset_a":               testToken,
		"asset_b":               testNative,
		"amount_a_desired_pips": uint64(1000_00000000),
		"amount_b_desired_pips": uint64(1_00000000),
		"amount_a_min_pips":     uint64(990_00000000),
		"amount_b_min_pips":     uint64(99000000),
		"to":                    testWallet,
		"deadline_ms":           uint64(1700000600000),
		"signature":             testSig,
		"execution": map[string]interface{}{
			"base_asset":       testToken,
			"quote_asset":      testNative,
			"liquidity_pips":   uint64(3162277660),
			"gross_base_pips":  uint64(1000_00000000),
			"gross_quote_pips": uint64(1_00000000),
			"net_base_pips":    uint64(1000_00000000),
			"net_quote_pips":   uint64(1_00000000),
		},
	}

	instr, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "LiquidityAddition")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if instr.Operation != "ExecuteAddLiquidity" {
		t.Errorf("operation: got %s, want ExecuteAddLiquidity", instr.Operation)
	}
}

func TestParseLiquidityOnChainSkipsSignature(t *testing.T) {
	payload := map[string]interface{}{
		"nonce":               testUUID,
		"wallet":              testWallet,
		"asset_a":             testToken,
		"asset_b":             testNative,
		"to":                  testWallet,
		"deadline_ms":         uint64(1700000600000),
		"on_chain_originated": true,
		"execution": map[string]interface{}{
			"base_asset":  testToken,
			"quote_asset": testNative,
		},
	}

	if _, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "LiquidityRemoval"); err != nil {
		t.Fatalf("on-chain originated change must not need a signature: %v", err)
	}
}

func TestParseUnknownKind(t *testing.T) {
	if _, err := ingestion.ParseRawEvent(rawFromJSON(t, map[string]interface{}{}), "Bogus"); err == nil {
		t.Errorf("expected error for unknown instruction kind")
	}
}

func TestSequenceValidator(t *testing.T) {
	sv := ingestion.NewSequenceValidator()

	// First message fixes the origin.
	if stale, err := sv.Validate("trades:XYZ-ETH", 5); err != nil || stale {
		t.Fatalf("first message: stale=%v err=%v", stale, err)
	}

	// In-order advance.
	if stale, err := sv.Validate("trades:XYZ-ETH", 6); err != nil || stale {
		t.Fatalf("in-order: stale=%v err=%v", stale, err)
	}

	// Redelivery is stale, not an error.
	if stale, err := sv.Validate("trades:XYZ-ETH", 6); err != nil || !stale {
		t.Fatalf("redelivery: stale=%v err=%v", stale, err)
	}

	// Gap is an error and does not advance.
	if _, err := sv.Validate("trades:XYZ-ETH", 9); err == nil {
		t.Fatalf("expected gap error")
	}
	if stale, err := sv.Validate("trades:XYZ-ETH", 7); err != nil || stale {
		t.Fatalf("recovery after gap: stale=%v err=%v", stale, err)
	}

	// Partitions are independent.
	if stale, err := sv.Validate("withdrawals:0xabc", 1); err != nil || stale {
		t.Fatalf("other partition: stale=%v err=%v", stale, err)
	}

	// Zero opts out of ordering.
	if stale, err := sv.Validate("trades:XYZ-ETH", 0); err != nil || stale {
		t.Fatalf("zero sequence: stale=%v err=%v", stale, err)
	}
}
