package query

// BalanceResponse is one wallet/asset balance. Quantity is the pip value
// rendered as a decimal string with 8 fractional digits; the raw pip count
// rides alongside for callers doing arithmetic.
type BalanceResponse struct {
	Wallet       string `json:"wallet"`
	Asset        string `json:"asset"`
	Symbol       string `json:"symbol,omitempty"`
	Quantity     string `json:"quantity"`
	QuantityPips int64  `json:"quantityPips"`
	AsOfSequence int64  `json:"asOfSequence"`
}

// TransferResponse is one journaled balance delta for a wallet.
type TransferResponse struct {
	Sequence     int64  `json:"sequence"`
	EventType    string `json:"eventType"`
	Asset        string `json:"asset"`
	Delta        string `json:"delta"`
	DeltaPips    int64  `json:"deltaPips"`
	BalanceAfter string `json:"balanceAfter"`
	TimestampMs  int64  `json:"timestampMs"`
}

// EventResponse is one event log entry for audit queries.
type EventResponse struct {
	Sequence       int64  `json:"sequence"`
	EventType      string `json:"eventType"`
	IdempotencyKey string `json:"idempotencyKey"`
	TimestampMs    int64  `json:"timestampMs"`
	Payload        []byte `json:"payload"`
	Hash           string `json:"hash"`
	PrevHash       string `json:"prevHash"`
}

// IntegrityReport is the result of an event log integrity check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"isHealthy"`
	LastSequence    int64   `json:"lastSequence"`
	HashChainBreaks []int64 `json:"hashChainBreaks,omitempty"`
	SequenceGaps    []int64 `json:"sequenceGaps,omitempty"`
}
