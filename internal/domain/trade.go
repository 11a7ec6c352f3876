package domain

import "encoding/json"

// UnsignedTx is an order transaction built by the market API, ready to sign.
type UnsignedTx struct {
	MarketID string
	Payload  []byte
}

// SignedTx is an UnsignedTx plus the wallet signature.
type SignedTx struct {
	Payload   []byte
	Signature []byte
	Signer    string
}

// SubmitResult is the market API response to an order submission.
type SubmitResult struct {
	TxID   string          `json:"txId"`
	Status string          `json:"status"`
	Raw    json.RawMessage `json:"raw,omitempty"`
}

// TradeDelta is the realized change between the before and after snapshots.
type TradeDelta struct {
	CashDelta   *float64  `json:"cashDelta"`
	SharesDelta []float64 `json:"sharesDelta"`
}

// ComputeTradeDelta diffs two captures of the same market. Share deltas
// cover the overlapping prefix of both share vectors.
func ComputeTradeDelta(before, after Snapshot, marketID string) TradeDelta {
	var d TradeDelta
	if before.CashBalance != nil && after.CashBalance != nil {
		v := *after.CashBalance - *before.CashBalance
		d.CashDelta = &v
	}

	bm, okB := before.Market(marketID)
	am, okA := after.Market(marketID)
	if !okB || !okA || bm.Shares == nil || am.Shares == nil {
		return d
	}
	n := min(len(bm.Shares), len(am.Shares))
	d.SharesDelta = make([]float64, n)
	for i := 0; i < n; i++ {
		d.SharesDelta[i] = am.Shares[i] - bm.Shares[i]
	}
	return d
}
