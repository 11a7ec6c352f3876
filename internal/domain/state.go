package domain

import "time"

// StateVersion is the schema version written to new state documents.
const StateVersion = 1

// Default risk limits for a freshly created state.
const (
	DefaultMaxCostUSDC     = 5.0
	DefaultCooldownSec     = 0.0
	DefaultMaxTradesPerDay = 20
)

// State is the derived financial state of one wallet. It is a rebuildable
// cache of the ledger, but the executor treats it as the operational truth.
type State struct {
	Version       int                      `json:"version"`
	CreatedAt     time.Time                `json:"createdAt"`
	WalletAddress string                   `json:"walletAddress"`
	LastNAV       *float64                 `json:"lastNav"`
	NAVSeries     []NAVPoint               `json:"navSeries"`
	Daily         map[string]DailyNAV      `json:"daily"`
	Positions     map[string]PositionCache `json:"positions"`
	Risk          Risk                     `json:"risk"`
	Stats         Stats                    `json:"stats"`
}

// NAVPoint is one element of the NAV time series.
type NAVPoint struct {
	TS time.Time `json:"ts"`
	NAVInfo
}

// DailyNAV aggregates NAV observations of one UTC day.
type DailyNAV struct {
	NAVOpen  float64 `json:"navOpen"`
	NAVClose float64 `json:"navClose"`
	PnL      float64 `json:"pnl"`
}

// PositionCache is the last known view of a market position.
type PositionCache struct {
	Title           *string         `json:"title"`
	Shares          []float64       `json:"shares"`
	LastPrices      []float64       `json:"lastPrices"`
	PrevPrices      []float64       `json:"prevPrices"`
	AnswerTitles    []string        `json:"answerTitles"`
	LastValue       float64         `json:"lastValue"`
	ValuationMethod ValuationMethod `json:"valuationMethod"`
	LastTS          time.Time       `json:"lastTs"`
}

// Risk holds the trading limits enforced by the executor.
type Risk struct {
	MaxCostUSDC     float64 `json:"maxCostUsdc"`
	CooldownSec     float64 `json:"cooldownSec"`
	MaxTradesPerDay int     `json:"maxTradesPerDay"`
}

// DefaultRisk returns the limits applied when none are configured.
func DefaultRisk() Risk {
	return Risk{
		MaxCostUSDC:     DefaultMaxCostUSDC,
		CooldownSec:     DefaultCooldownSec,
		MaxTradesPerDay: DefaultMaxTradesPerDay,
	}
}

// Stats are runtime counters.
type Stats struct {
	TradesTotal    int        `json:"tradesTotal"`
	TradesToday    int        `json:"tradesToday"`
	LastTradeTS    *time.Time `json:"lastTradeTs"`
	LastSnapshotTS *time.Time `json:"lastSnapshotTs"`
	LastError      *string    `json:"lastError"`
}

// NewState returns an empty state bound to wallet.
func NewState(wallet string, risk Risk, now time.Time) *State {
	return &State{
		Version:       StateVersion,
		CreatedAt:     now.UTC(),
		WalletAddress: wallet,
		NAVSeries:     []NAVPoint{},
		Daily:         map[string]DailyNAV{},
		Positions:     map[string]PositionCache{},
		Risk:          risk,
	}
}

// DayKey returns the UTC calendar day of t as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// RollDay resets TradesToday when the last trade happened on a different
// UTC day than now. Returns true if a reset happened.
func (s *State) RollDay(now time.Time) bool {
	if s.Stats.LastTradeTS == nil {
		return false
	}
	if DayKey(*s.Stats.LastTradeTS) == DayKey(now) {
		return false
	}
	if s.Stats.TradesToday == 0 {
		return false
	}
	s.Stats.TradesToday = 0
	return true
}

// RecordNAV appends a NAV observation and updates the daily aggregate.
func (s *State) RecordNAV(ts time.Time, nav NAVInfo) {
	s.NAVSeries = append(s.NAVSeries, NAVPoint{TS: ts.UTC(), NAVInfo: nav})
	v := nav.NAV
	s.LastNAV = &v

	if s.Daily == nil {
		s.Daily = map[string]DailyNAV{}
	}
	day := DayKey(ts)
	d, ok := s.Daily[day]
	if !ok {
		d = DailyNAV{NAVOpen: nav.NAV}
	}
	d.NAVClose = nav.NAV
	d.PnL = d.NAVClose - d.NAVOpen
	s.Daily[day] = d
}

// RecordTrade bumps the trade counters after a submitted trade.
func (s *State) RecordTrade(ts time.Time) {
	t := ts.UTC()
	s.Stats.LastTradeTS = &t
	s.Stats.TradesTotal++
	s.Stats.TradesToday++
	s.Stats.LastError = nil
}

// SetError stores msg as the last error.
func (s *State) SetError(msg string) {
	s.Stats.LastError = &msg
}
