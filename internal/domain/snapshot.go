package domain

import "time"

// ValuationMethod records how a market position was marked.
type ValuationMethod string

const (
	MethodPrices ValuationMethod = "prices" // Σ shares × price
	MethodImpact ValuationMethod = "impact" // simulated full liquidation
)

// Position is the wallet's holding in one market as reported by the market API.
type Position struct {
	SettlementBalance *float64
	Shares            []float64
}

// OutcomePrice is the current price of one outcome.
type OutcomePrice struct {
	Outcome string
	Price   float64
}

// MarketMeta is the descriptive part of a market.
type MarketMeta struct {
	Title    string
	Outcomes []string
}

// MarketSnapshot is the captured view of one market. Nil fields mean the
// corresponding collaborator call failed during capture.
type MarketSnapshot struct {
	MarketID     string    `json:"marketId"`
	Title        *string   `json:"title"`
	Shares       []float64 `json:"shares"`
	Prices       []float64 `json:"prices"`
	AnswerTitles []string  `json:"answerTitles"`
}

// Snapshot is a point-in-time capture of cash, positions and prices.
type Snapshot struct {
	TS            time.Time        `json:"ts"`
	WalletAddress string           `json:"walletAddress"`
	CashBalance   *float64         `json:"cashBalance"`
	Markets       []MarketSnapshot `json:"markets"`
}

// Market returns the captured market with the given ID.
func (s Snapshot) Market(marketID string) (MarketSnapshot, bool) {
	for _, m := range s.Markets {
		if m.MarketID == marketID {
			return m, true
		}
	}
	return MarketSnapshot{}, false
}

// MarketValue is the valuation of one market position.
type MarketValue struct {
	Value     float64         `json:"value"`
	Method    ValuationMethod `json:"method"`
	BaseValue float64         `json:"baseValue"`
}

// NAVInfo is the result of valuing a snapshot.
type NAVInfo struct {
	NAV            float64                `json:"nav"`
	Cash           float64                `json:"cash"`
	PositionsValue float64                `json:"positionsValue"`
	MarketValues   map[string]MarketValue `json:"marketValues"`
}

// SnapshotRecord is the payload of a snapshot ledger event.
type SnapshotRecord struct {
	Snapshot Snapshot `json:"snapshot"`
	NAVInfo  *NAVInfo `json:"navInfo"`
}

// DotPrefix returns Σ a[i]·b[i] over the overlapping prefix of a and b.
// A length mismatch is a transient inconsistency upstream, not corruption.
func DotPrefix(a, b []float64) float64 {
	n := min(len(a), len(b))
	total := 0.0
	for i := 0; i < n; i++ {
		total += a[i] * b[i]
	}
	return total
}
