package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"SpotLedger/internal/engine"
	"SpotLedger/internal/order"
)

// Instruction is a parsed settlement instruction ready for submission to the
// engine loop. Caller is nil for dispatcher-originated instructions; wallet
// operations relayed through NATS carry the wallet itself.
type Instruction struct {
	Operation      string
	SourceSequence int64
	Partition      string
	TimestampMs    uint64
	Caller         *common.Address
	Apply          func(*engine.Engine, engine.TxContext) (engine.Output, error)
}

// ParseRawEvent converts a raw NATS message into a typed instruction.
// The instruction kind comes from the subject mapping, not the payload, so a
// misrouted message fails parsing instead of settling as the wrong type.
func ParseRawEvent(raw RawEvent, kind string) (Instruction, error) {
	switch kind {
	case "OrderBookTrade":
		return parseOrderBookTrade(raw.Data)
	case "PoolTrade":
		return parsePoolTrade(raw.Data)
	case "HybridTrade":
		return parseHybridTrade(raw.Data)
	case "Withdrawal":
		return parseWithdrawal(raw.Data)
	case "LiquidityAddition":
		return parseLiquidityChange(raw.Data, order.LiquidityAddition)
	case "LiquidityRemoval":
		return parseLiquidityChange(raw.Data, order.LiquidityRemoval)
	case "NonceInvalidation":
		return parseNonceInvalidation(raw.Data)
	case "Deposit":
		return parseDeposit(raw.Data)
	default:
		return Instruction{}, fmt.Errorf("unknown instruction kind: %s", kind)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match the upstream dispatcher. Quantities
// are pips except deposits, which arrive in native asset units from the
// chain listener.

type headerJSON struct {
	SourceSequence int64  `json:"source_sequence"`
	TimestampMs    uint64 `json:"timestamp_ms"`
}

type orderJSON struct {
	Nonce             string `json:"nonce"`
	Wallet            string `json:"wallet"`
	Market            string `json:"market"`
	OrderType         string `json:"type"` // "market" or "limit"
	Side              string `json:"side"` // "buy" or "sell"
	QuantityPips      uint64 `json:"quantity_pips"`
	IsQuantityInQuote bool   `json:"is_quantity_in_quote,omitempty"`
	LimitPricePips    uint64 `json:"limit_price_pips,omitempty"`
	ClientOrderID     string `json:"client_order_id,omitempty"`
	Signature         string `json:"signature"`
}

func (j *orderJSON) toOrder() (order.Order, error) {
	nonce, err := uuid.Parse(j.Nonce)
	if err != nil {
		return order.Order{}, fmt.Errorf("parse nonce: %w", err)
	}
	wallet, err := parseAddress(j.Wallet)
	if err != nil {
		return order.Order{}, fmt.Errorf("parse wallet: %w", err)
	}
	sig, err := hexutil.Decode(j.Signature)
	if err != nil {
		return order.Order{}, fmt.Errorf("parse signature: %w", err)
	}

	orderType := order.TypeMarket
	if j.OrderType == "limit" {
		orderType = order.TypeLimit
	}
	side := order.SideBuy
	if j.Side == "sell" {
		side = order.SideSell
	}

	return order.Order{
		Nonce:             nonce,
		Wallet:            wallet,
		Market:            j.Market,
		OrderType:         orderType,
		Side:              side,
		QuantityInPips:    j.QuantityPips,
		IsQuantityInQuote: j.IsQuantityInQuote,
		LimitPriceInPips:  j.LimitPricePips,
		ClientOrderID:     j.ClientOrderID,
		Signature:         sig,
	}, nil
}

type tradeJSON struct {
	BaseAsset      string `json:"base_asset"`
	QuoteAsset     string `json:"quote_asset"`
	GrossBasePips  uint64 `json:"gross_base_pips"`
	GrossQuotePips uint64 `json:"gross_quote_pips"`
	NetBasePips    uint64 `json:"net_base_pips"`
	NetQuotePips   uint64 `json:"net_quote_pips"`
	MakerFeePips   uint64 `json:"maker_fee_pips"`
	TakerFeePips   uint64 `json:"taker_fee_pips"`
	PricePips      uint64 `json:"price_pips"`
	MakerSide      string `json:"maker_side"`
}

func (j *tradeJSON) toTrade() (order.Trade, error) {
	base, err := parseAddress(j.BaseAsset)
	if err != nil {
		return order.Trade{}, fmt.Errorf("parse base_asset: %w", err)
	}
	quote, err := parseAddress(j.QuoteAsset)
	if err != nil {
		return order.Trade{}, fmt.Errorf("parse quote_asset: %w", err)
	}
	makerSide := order.SideBuy
	if j.MakerSide == "sell" {
		makerSide = order.SideSell
	}
	return order.Trade{
		BaseAssetAddress:         base,
		QuoteAssetAddress:        quote,
		GrossBaseQuantityInPips:  j.GrossBasePips,
		GrossQuoteQuantityInPips: j.GrossQuotePips,
		NetBaseQuantityInPips:    j.NetBasePips,
		NetQuoteQuantityInPips:   j.NetQuotePips,
		MakerFeeQuantityInPips:   j.MakerFeePips,
		TakerFeeQuantityInPips:   j.TakerFeePips,
		PriceInPips:              j.PricePips,
		MakerSide:                makerSide,
	}, nil
}

type poolTradeJSON struct {
	BaseAsset       string `json:"base_asset"`
	QuoteAsset      string `json:"quote_asset"`
	GrossBasePips   uint64 `json:"gross_base_pips"`
	GrossQuotePips  uint64 `json:"gross_quote_pips"`
	NetBasePips     uint64 `json:"net_base_pips"`
	NetQuotePips    uint64 `json:"net_quote_pips"`
	PoolFeePips     uint64 `json:"pool_fee_pips"`
	ProtocolFeePips uint64 `json:"protocol_fee_pips"`
	TakerGasFeePips uint64 `json:"taker_gas_fee_pips"`
}

func (j *poolTradeJSON) toPoolTrade() (order.PoolTrade, error) {
	base, err := parseAddress(j.BaseAsset)
	if err != nil {
		return order.PoolTrade{}, fmt.Errorf("parse base_asset: %w", err)
	}
	quote, err := parseAddress(j.QuoteAsset)
	if err != nil {
		return order.PoolTrade{}, fmt.Errorf("parse quote_asset: %w", err)
	}
	return order.PoolTrade{
		BaseAssetAddress:               base,
		QuoteAssetAddress:              quote,
		GrossBaseQuantityInPips:        j.GrossBasePips,
		GrossQuoteQuantityInPips:       j.GrossQuotePips,
		NetBaseQuantityInPips:          j.NetBasePips,
		NetQuoteQuantityInPips:         j.NetQuotePips,
		TakerPoolFeeQuantityInPips:     j.PoolFeePips,
		TakerProtocolFeeQuantityInPips: j.ProtocolFeePips,
		TakerGasFeeQuantityInPips:      j.TakerGasFeePips,
	}, nil
}

type orderBookTradeJSON struct {
	headerJSON
	BuyOrder  orderJSON `json:"buy_order"`
	SellOrder orderJSON `json:"sell_order"`
	Trade     tradeJSON `json:"trade"`
}

func parseOrderBookTrade(data []byte) (Instruction, error) {
	var j orderBookTradeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Instruction{}, fmt.Errorf("parse OrderBookTrade: %w", err)
	}
	buy, err := j.BuyOrder.toOrder()
	if err != nil {
		return Instruction{}, fmt.Errorf("buy_order: %w", err)
	}
	sell, err := j.SellOrder.toOrder()
	if err != nil {
		return Instruction{}, fmt.Errorf("sell_order: %w", err)
	}
	t, err := j.Trade.toTrade()
	if err != nil {
		return Instruction{}, fmt.Errorf("trade: %w", err)
	}
	return Instruction{
		Operation:      "ExecuteOrderBookTrade",
		SourceSequence: j.SourceSequence,
		Partition:      "trades:" + buy.Market,
		TimestampMs:    j.TimestampMs,
		Apply: func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
			return e.ExecuteOrderBookTrade(tx, buy, sell, t)
		},
	}, nil
}

type poolTradeInstructionJSON struct {
	headerJSON
	TakerOrder orderJSON     `json:"taker_order"`
	PoolTrade  poolTradeJSON `json:"pool_trade"`
}

func parsePoolTrade(data []byte) (Instruction, error) {
	var j poolTradeInstructionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Instruction{}, fmt.Errorf("parse PoolTrade: %w", err)
	}
	taker, err := j.TakerOrder.toOrder()
	if err != nil {
		return Instruction{}, fmt.Errorf("taker_order: %w", err)
	}
	pt, err := j.PoolTrade.toPoolTrade()
	if err != nil {
		return Instruction{}, fmt.Errorf("pool_trade: %w", err)
	}
	return Instruction{
		Operation:      "ExecutePoolTrade",
		SourceSequence: j.SourceSequence,
		Partition:      "trades:" + taker.Market,
		TimestampMs:    j.TimestampMs,
		Apply: func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
			return e.ExecutePoolTrade(tx, taker, pt)
		},
	}, nil
}

type hybridTradeJSON struct {
	headerJSON
	TakerOrder orderJSON     `json:"taker_order"`
	MakerOrder orderJSON     `json:"maker_order"`
	Trade      tradeJSON     `json:"trade"`
	PoolTrade  poolTradeJSON `json:"pool_trade"`
}

func parseHybridTrade(data []byte) (Instruction, error) {
	var j hybridTradeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Instruction{}, fmt.Errorf("parse HybridTrade: %w", err)
	}
	taker, err := j.TakerOrder.toOrder()
	if err != nil {
		return Instruction{}, fmt.Errorf("taker_order: %w", err)
	}
	maker, err := j.MakerOrder.toOrder()
	if err != nil {
		return Instruction{}, fmt.Errorf("maker_order: %w", err)
	}
	t, err := j.Trade.toTrade()
	if err != nil {
		return Instruction{}, fmt.Errorf("trade: %w", err)
	}
	pt, err := j.PoolTrade.toPoolTrade()
	if err != nil {
		return Instruction{}, fmt.Errorf("pool_trade: %w", err)
	}
	return Instruction{
		Operation:      "ExecuteHybridTrade",
		SourceSequence: j.SourceSequence,
		Partition:      "trades:" + taker.Market,
		TimestampMs:    j.TimestampMs,
		Apply: func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
			return e.ExecuteHybridTrade(tx, taker, maker, t, pt)
		},
	}, nil
}

type withdrawalJSON struct {
	headerJSON
	Nonce        string `json:"nonce"`
	Wallet       string `json:"wallet"`
	AssetSymbol  string `json:"asset_symbol,omitempty"`
	AssetAddress string `json:"asset_address,omitempty"`
	ByAddress    bool   `json:"by_address,omitempty"`
	GrossPips    uint64 `json:"gross_quantity_pips"`
	GasFeePips   uint64 `json:"gas_fee_pips"`
	Signature    string `json:"signature"`
}

func parseWithdrawal(data []byte) (Instruction, error) {
	var j withdrawalJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Instruction{}, fmt.Errorf("parse Withdrawal: %w", err)
	}
	nonce, err := uuid.Parse(j.Nonce)
	if err != nil {
		return Instruction{}, fmt.Errorf("parse nonce: %w", err)
	}
	wallet, err := parseAddress(j.Wallet)
	if err != nil {
		return Instruction{}, fmt.Errorf("parse wallet: %w", err)
	}
	sig, err := hexutil.Decode(j.Signature)
	if err != nil {
		return Instruction{}, fmt.Errorf("parse signature: %w", err)
	}

	w := order.Withdrawal{
		Nonce:               nonce,
		Wallet:              wallet,
		AssetSymbol:         j.AssetSymbol,
		ByAddress:           j.ByAddress,
		GrossQuantityInPips: j.GrossPips,
		GasFeeInPips:        j.GasFeePips,
		Signature:           sig,
	}
	if j.ByAddress {
		addr, err := parseAddress(j.AssetAddress)
		if err != nil {
			return Instruction{}, fmt.Errorf("parse asset_address: %w", err)
		}
		w.AssetAddress = addr
	}

	return Instruction{
		Operation:      "Withdraw",
		SourceSequence: j.SourceSequence,
		Partition:      "withdrawals:" + wallet.Hex(),
		TimestampMs:    j.TimestampMs,
		Apply: func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
			return e.Withdraw(tx, w)
		},
	}, nil
}

type liquidityChangeJSON struct {
	headerJSON
	Nonce             string `json:"nonce"`
	Wallet            string `json:"wallet"`
	AssetA            string `json:"asset_a"`
	AssetB            string `json:"asset_b"`
	AmountADesired    uint64 `json:"amount_a_desired_pips"`
	AmountBDesired    uint64 `json:"amount_b_desired_pips"`
	AmountAMin        uint64 `json:"amount_a_min_pips"`
	AmountBMin        uint64 `json:"amount_b_min_pips"`
	To                string `json:"to"`
	DeadlineMs        uint64 `json:"deadline_ms"`
	Signature         string `json:"signature,omitempty"`
	OnChainOriginated bool   `json:"on_chain_originated,omitempty"`

	Execution struct {
		BaseAsset      string `json:"base_asset"`
		QuoteAsset     string `json:"quote_asset"`
		LiquidityPips  uint64 `json:"liquidity_pips"`
		GrossBasePips  uint64 `json:"gross_base_pips"`
		GrossQuotePips uint64 `json:"gross_quote_pips"`
		NetBasePips    uint64 `json:"net_base_pips"`
		NetQuotePips   uint64 `json:"net_quote_pips"`
	} `json:"execution"`
}

func parseLiquidityChange(data []byte, changeType order.LiquidityChangeType) (Instruction, error) {
	var j liquidityChangeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Instruction{}, fmt.Errorf("parse LiquidityChange: %w", err)
	}
	nonce, err := uuid.Parse(j.Nonce)
	if err != nil {
		return Instruction{}, fmt.Errorf("parse nonce: %w", err)
	}
	wallet, err := parseAddress(j.Wallet)
	if err != nil {
		return Instruction{}, fmt.Errorf("parse wallet: %w", err)
	}
	assetA, err := parseAddress(j.AssetA)
	if err != nil {
		return Instruction{}, fmt.Errorf("parse asset_a: %w", err)
	}
	assetB, err := parseAddress(j.AssetB)
	if err != nil {
		return Instruction{}, fmt.Errorf("parse asset_b: %w", err)
	}
	to, err := parseAddress(j.To)
	if err != nil {
		return Instruction{}, fmt.Errorf("parse to: %w", err)
	}
	base, err := parseAddress(j.Execution.BaseAsset)
	if err != nil {
		return Instruction{}, fmt.Errorf("parse execution.base_asset: %w", err)
	}
	quote, err := parseAddress(j.Execution.QuoteAsset)
	if err != nil {
		return Instruction{}, fmt.Errorf("parse execution.quote_asset: %w", err)
	}

	change := order.LiquidityChange{
		ChangeType:           changeType,
		Origination:          order.OriginationOffChain,
		Nonce:                nonce,
		Wallet:               wallet,
		AssetA:               assetA,
		AssetB:               assetB,
		AmountADesiredInPips: j.AmountADesired,
		AmountBDesiredInPips: j.AmountBDesired,
		AmountAMinInPips:     j.AmountAMin,
		AmountBMinInPips:     j.AmountBMin,
		To:                   to,
		DeadlineMs:           j.DeadlineMs,
	}
	if j.OnChainOriginated {
		change.Origination = order.OriginationOnChain
	} else {
		sig, err := hexutil.Decode(j.Signature)
		if err != nil {
			return Instruction{}, fmt.Errorf("parse signature: %w", err)
		}
		change.Signature = sig
	}

	exec := order.LiquidityExecution{
		BaseAssetAddress:         base,
		QuoteAssetAddress:        quote,
		LiquidityInPips:          j.Execution.LiquidityPips,
		GrossBaseQuantityInPips:  j.Execution.GrossBasePips,
		GrossQuoteQuantityInPips: j.Execution.GrossQuotePips,
		NetBaseQuantityInPips:    j.Execution.NetBasePips,
		NetQuoteQuantityInPips:   j.Execution.NetQuotePips,
	}

	operation := "ExecuteAddLiquidity"
	apply := func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
		return e.ExecuteAddLiquidity(tx, change, exec)
	}
	if changeType == order.LiquidityRemoval {
		operation = "ExecuteRemoveLiquidity"
		apply = func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
			return e.ExecuteRemoveLiquidity(tx, change, exec)
		}
	}

	return Instruction{
		Operation:      operation,
		SourceSequence: j.SourceSequence,
		Partition:      "liquidity:" + wallet.Hex(),
		TimestampMs:    j.TimestampMs,
		Apply:          apply,
	}, nil
}

type nonceInvalidationJSON struct {
	headerJSON
	Wallet string `json:"wallet"`
	Nonce  string `json:"nonce"`
}

func parseNonceInvalidation(data []byte) (Instruction, error) {
	var j nonceInvalidationJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Instruction{}, fmt.Errorf("parse NonceInvalidation: %w", err)
	}
	wallet, err := parseAddress(j.Wallet)
	if err != nil {
		return Instruction{}, fmt.Errorf("parse wallet: %w", err)
	}
	nonce, err := uuid.Parse(j.Nonce)
	if err != nil {
		return Instruction{}, fmt.Errorf("parse nonce: %w", err)
	}
	return Instruction{
		Operation:      "InvalidateOrderNonce",
		SourceSequence: j.SourceSequence,
		Partition:      "nonces:" + wallet.Hex(),
		TimestampMs:    j.TimestampMs,
		Caller:         &wallet,
		Apply: func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
			return e.InvalidateOrderNonce(tx, nonce)
		},
	}, nil
}

type depositJSON struct {
	headerJSON
	Wallet             string `json:"wallet"`
	AssetAddress       string `json:"asset_address,omitempty"`
	AssetSymbol        string `json:"asset_symbol,omitempty"`
	Native             bool   `json:"native,omitempty"`
	QuantityAssetUnits string `json:"quantity_asset_units"` // decimal big integer
}

func parseDeposit(data []byte) (Instruction, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Instruction{}, fmt.Errorf("parse Deposit: %w", err)
	}
	wallet, err := parseAddress(j.Wallet)
	if err != nil {
		return Instruction{}, fmt.Errorf("parse wallet: %w", err)
	}
	quantity, ok := new(big.Int).SetString(j.QuantityAssetUnits, 10)
	if !ok {
		return Instruction{}, fmt.Errorf("parse quantity_asset_units: %q", j.QuantityAssetUnits)
	}

	instr := Instruction{
		Operation:      "Deposit",
		SourceSequence: j.SourceSequence,
		Partition:      "deposits:" + wallet.Hex(),
		TimestampMs:    j.TimestampMs,
		Caller:         &wallet,
	}

	switch {
	case j.Native:
		instr.Apply = func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
			return e.DepositNative(tx, quantity)
		}
	case j.AssetAddress != "":
		addr, err := parseAddress(j.AssetAddress)
		if err != nil {
			return Instruction{}, fmt.Errorf("parse asset_address: %w", err)
		}
		instr.Apply = func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
			return e.DepositTokenByAddress(tx, addr, quantity)
		}
	case j.AssetSymbol != "":
		symbol := j.AssetSymbol
		instr.Apply = func(e *engine.Engine, tx engine.TxContext) (engine.Output, error) {
			return e.DepositTokenBySymbol(tx, symbol, quantity)
		}
	default:
		return Instruction{}, fmt.Errorf("deposit names no asset")
	}

	return instr, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
