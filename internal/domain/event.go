package domain

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of record written to the ledger.
type EventType string

const (
	EventSnapshot      EventType = "snapshot"
	EventOrderIntent   EventType = "order_intent"
	EventTradeRejected EventType = "trade_rejected"
	EventTxSubmitted   EventType = "tx_submitted"
	EventTxResult      EventType = "tx_result"
	EventTradeDelta    EventType = "trade_delta"
)

// Meta is free-form context attached to an event (wallet, markets, ...).
type Meta map[string]any

// Event is one immutable ledger record. Payload is kept as raw JSON so that
// readers never depend on the Go type that produced it.
type Event struct {
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Meta    Meta            `json:"meta,omitempty"`
}

// DecodePayload unmarshals the event payload into out.
func (e Event) DecodePayload(out any) error {
	return json.Unmarshal(e.Payload, out)
}

// ReadOptions filters a ledger read.
type ReadOptions struct {
	Since time.Time // zero = from the beginning
	Limit int       // <= 0 = no limit; otherwise the last Limit events
}

// OrderIntentPayload is what the executor planned before touching the chain.
type OrderIntentPayload struct {
	WalletAddress string    `json:"walletAddress"`
	MarketID      string    `json:"marketId"`
	DeltaShares   []float64 `json:"deltaShares"`
	ExpectedCost  *float64  `json:"expectedCost"`
	Reason        string    `json:"reason"`
	Blocked       bool      `json:"blocked"`
	MaxCost       *float64  `json:"maxCost,omitempty"`
}

// TradeRejectedPayload explains a trade refused by a rate-limit guard.
type TradeRejectedPayload struct {
	WalletAddress string    `json:"walletAddress"`
	MarketID      string    `json:"marketId"`
	DeltaShares   []float64 `json:"deltaShares"`
	Reason        string    `json:"reason"`
	Rejection     string    `json:"rejection"`
}

// TxPayload is written around the submission call.
type TxPayload struct {
	WalletAddress string        `json:"walletAddress"`
	MarketID      string        `json:"marketId"`
	DeltaShares   []float64     `json:"deltaShares"`
	Result        *SubmitResult `json:"result,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// TradeDeltaPayload records the realized effect of a trade.
type TradeDeltaPayload struct {
	WalletAddress string     `json:"walletAddress"`
	MarketID      string     `json:"marketId"`
	Delta         TradeDelta `json:"delta"`
	ExpectedCost  *float64   `json:"expectedCost"`
}
