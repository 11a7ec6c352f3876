package domain_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alejandrodnm/beliefbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollDay_ResetsOnNewDay(t *testing.T) {
	yesterday := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	st := domain.NewState("w1", domain.DefaultRisk(), yesterday)
	st.Stats.LastTradeTS = &yesterday
	st.Stats.TradesToday = 7

	reset := st.RollDay(yesterday.Add(2 * time.Minute))
	assert.True(t, reset)
	assert.Equal(t, 0, st.Stats.TradesToday)
}

func TestRollDay_SameDayKeepsCounter(t *testing.T) {
	morning := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	st := domain.NewState("w1", domain.DefaultRisk(), morning)
	st.Stats.LastTradeTS = &morning
	st.Stats.TradesToday = 3

	assert.False(t, st.RollDay(morning.Add(10*time.Hour)))
	assert.Equal(t, 3, st.Stats.TradesToday)
}

func TestRollDay_UsesUTCDay(t *testing.T) {
	// 23:30 en UTC-5 ya es el día siguiente en UTC
	est := time.FixedZone("EST", -5*3600)
	last := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	st := domain.NewState("w1", domain.DefaultRisk(), last)
	st.Stats.LastTradeTS = &last
	st.Stats.TradesToday = 1

	assert.True(t, st.RollDay(time.Date(2026, 3, 1, 23, 30, 0, 0, est)))
}

func TestRecordNAV_DailyAggregation(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st := domain.NewState("w1", domain.DefaultRisk(), t0)

	st.RecordNAV(t0, domain.NAVInfo{NAV: 100})
	st.RecordNAV(t0.Add(time.Hour), domain.NAVInfo{NAV: 112})
	st.RecordNAV(t0.Add(24*time.Hour), domain.NAVInfo{NAV: 90})

	require.Len(t, st.NAVSeries, 3)
	require.NotNil(t, st.LastNAV)
	assert.InDelta(t, 90, *st.LastNAV, 1e-9)

	d1 := st.Daily["2026-03-01"]
	assert.InDelta(t, 100, d1.NAVOpen, 1e-9)
	assert.InDelta(t, 112, d1.NAVClose, 1e-9)
	assert.InDelta(t, 12, d1.PnL, 1e-9)

	d2 := st.Daily["2026-03-02"]
	assert.InDelta(t, 90, d2.NAVOpen, 1e-9)
	assert.InDelta(t, 0, d2.PnL, 1e-9)
}

func TestRecordTrade_ClearsError(t *testing.T) {
	now := time.Now()
	st := domain.NewState("w1", domain.DefaultRisk(), now)
	st.SetError("boom")

	st.RecordTrade(now)
	assert.Nil(t, st.Stats.LastError)
	assert.Equal(t, 1, st.Stats.TradesTotal)
	assert.Equal(t, 1, st.Stats.TradesToday)
	require.NotNil(t, st.Stats.LastTradeTS)
}

func TestComputeTradeDelta_OverlappingPrefix(t *testing.T) {
	cashB, cashA := 100.0, 96.5
	before := domain.Snapshot{CashBalance: &cashB, Markets: []domain.MarketSnapshot{
		{MarketID: "m1", Shares: []float64{1, 2, 3}},
	}}
	after := domain.Snapshot{CashBalance: &cashA, Markets: []domain.MarketSnapshot{
		{MarketID: "m1", Shares: []float64{4, 2}},
	}}

	d := domain.ComputeTradeDelta(before, after, "m1")
	require.NotNil(t, d.CashDelta)
	assert.InDelta(t, -3.5, *d.CashDelta, 1e-9)
	assert.Equal(t, []float64{3, 0}, d.SharesDelta)
}

func TestComputeTradeDelta_UnknownCash(t *testing.T) {
	cash := 10.0
	d := domain.ComputeTradeDelta(
		domain.Snapshot{CashBalance: &cash},
		domain.Snapshot{},
		"m1",
	)
	assert.Nil(t, d.CashDelta)
	assert.Nil(t, d.SharesDelta)
}

func TestIsFatal(t *testing.T) {
	cfgErr := &domain.ConfigurationError{Err: domain.ErrWalletMismatch, Stored: "a", Provided: "b"}
	persistErr := &domain.PersistenceError{Op: "rename", Err: errors.New("disk full")}

	assert.True(t, domain.IsFatal(fmt.Errorf("wrapped: %w", cfgErr)))
	assert.True(t, domain.IsFatal(persistErr))
	assert.True(t, errors.Is(persistErr, domain.ErrPersistence))
	assert.False(t, domain.IsFatal(&domain.RateLimitError{Err: domain.ErrCooldown}))
	assert.False(t, domain.IsFatal(&domain.CostGuardError{ExpectedCost: 9, MaxCost: 5}))
	assert.True(t, errors.Is(&domain.CostGuardError{}, domain.ErrCostGuard))
}
