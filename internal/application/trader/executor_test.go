package trader_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/beliefbot/internal/adapters/ledger"
	"github.com/alejandrodnm/beliefbot/internal/adapters/statefile"
	"github.com/alejandrodnm/beliefbot/internal/application/snapshot"
	"github.com/alejandrodnm/beliefbot/internal/application/trader"
	"github.com/alejandrodnm/beliefbot/internal/application/valuation"
	"github.com/alejandrodnm/beliefbot/internal/domain"
	"github.com/alejandrodnm/beliefbot/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wallet = "0xWallet"

// --- mocks ---

// mockChain simulates a single market plus the wallet cash balance.
// SubmitOrder applies the delta so that the after snapshot differs.
type mockChain struct {
	shares    []float64
	prices    []float64
	cash      float64
	tradeCost float64

	quoteErr  error
	buildErr  error
	signErr   error
	submitErr error

	positionCalls int
	quoteCalls    int
	buildCalls    int
	submitCalls   int
	balanceCalls  int

	mu sync.Mutex // Position se llama en paralelo desde el snapshot
}

func (m *mockChain) Position(_ context.Context, _, _ string) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionCalls++
	return domain.Position{Shares: append([]float64(nil), m.shares...)}, nil
}

func (m *mockChain) Prices(_ context.Context, _ string) ([]domain.OutcomePrice, error) {
	out := make([]domain.OutcomePrice, len(m.prices))
	for i, p := range m.prices {
		out[i] = domain.OutcomePrice{Price: p}
	}
	return out, nil
}

func (m *mockChain) MarketMeta(_ context.Context, _ string) (domain.MarketMeta, error) {
	return domain.MarketMeta{Title: "Test market", Outcomes: []string{"Yes", "No"}}, nil
}

func (m *mockChain) TradeCost(_ context.Context, _ string, delta []float64) (float64, error) {
	m.quoteCalls++
	if isLiquidation(m.shares, delta) {
		return -domain.DotPrefix(m.shares, m.prices), nil
	}
	return m.tradeCost, m.quoteErr
}

func (m *mockChain) BuildOrder(_ context.Context, marketID, _ string, delta []float64) (domain.UnsignedTx, error) {
	m.buildCalls++
	if m.buildErr != nil {
		return domain.UnsignedTx{}, m.buildErr
	}
	return domain.UnsignedTx{MarketID: marketID, Payload: []byte("tx")}, nil
}

func (m *mockChain) SubmitOrder(_ context.Context, _ domain.SignedTx) (domain.SubmitResult, error) {
	m.submitCalls++
	if m.submitErr != nil {
		return domain.SubmitResult{}, m.submitErr
	}
	m.shares[0]++
	m.cash -= m.tradeCost
	return domain.SubmitResult{TxID: "0xabc", Status: "confirmed"}, nil
}

func (m *mockChain) Balance(_ context.Context, _ string) (float64, error) {
	m.balanceCalls++
	return m.cash, nil
}

func isLiquidation(shares, delta []float64) bool {
	if len(shares) != len(delta) {
		return false
	}
	for i := range shares {
		if delta[i] != -shares[i] {
			return false
		}
	}
	return true
}

type mockSigner struct{ err error }

func (s *mockSigner) Sign(_ context.Context, tx domain.UnsignedTx) (domain.SignedTx, error) {
	if s.err != nil {
		return domain.SignedTx{}, s.err
	}
	return domain.SignedTx{Payload: tx.Payload, Signature: []byte{1}, Signer: wallet}, nil
}

// flakyLedger fails appends of selected event types.
type flakyLedger struct {
	ports.Ledger
	fail map[domain.EventType]error
}

func (f *flakyLedger) Append(ctx context.Context, typ domain.EventType, payload any, meta domain.Meta) (domain.Event, error) {
	if err := f.fail[typ]; err != nil {
		return domain.Event{}, err
	}
	return f.Ledger.Append(ctx, typ, payload, meta)
}

// flakyStore fails the failAt-th Save (1-based; 0 = never).
type flakyStore struct {
	*statefile.Store
	saves  int
	failAt int
}

func (s *flakyStore) Save(ctx context.Context, st *domain.State) error {
	s.saves++
	if s.failAt > 0 && s.saves == s.failAt {
		return &domain.PersistenceError{Op: "rename", Err: errors.New("read-only filesystem")}
	}
	return s.Store.Save(ctx, st)
}

// --- helpers ---

type fixture struct {
	exec   *trader.Executor
	chain  *mockChain
	signer *mockSigner
	ledger *flakyLedger
	store  *flakyStore
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	l, err := ledger.NewJSONLLedger(filepath.Join(dir, "ledger.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	f := &fixture{
		chain: &mockChain{
			shares:    []float64{10, 0},
			prices:    []float64{0.4, 0.6},
			cash:      100,
			tradeCost: 0.45,
		},
		signer: &mockSigner{},
		ledger: &flakyLedger{Ledger: l, fail: map[domain.EventType]error{}},
		store:  &flakyStore{Store: statefile.New(filepath.Join(dir, "state.json"), domain.DefaultRisk())},
		now:    time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	snaps := snapshot.New(f.chain, f.chain, valuation.New(f.chain), f.ledger, f.store).WithClock(clock)
	f.exec = trader.New(f.chain, f.signer, snaps, f.ledger, f.store).WithClock(clock)
	return f
}

func (f *fixture) seedState(t *testing.T, mutate func(st *domain.State)) {
	t.Helper()
	ctx := context.Background()
	st, err := f.store.Ensure(ctx, wallet)
	require.NoError(t, err)
	mutate(st)
	require.NoError(t, f.store.Save(ctx, st))
}

func (f *fixture) events(t *testing.T) []domain.Event {
	t.Helper()
	events, err := f.ledger.Read(context.Background(), domain.ReadOptions{})
	require.NoError(t, err)
	return events
}

func countType(events []domain.Event, typ domain.EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func buyYes() trader.Request {
	return trader.Request{
		WalletAddress: wallet,
		MarketID:      "m1",
		DeltaShares:   []float64{1, 0},
		Reason:        "edge on yes",
	}
}

func ptr(v float64) *float64 { return &v }

// --- tests ---

func TestExecute_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.exec.Execute(ctx, buyYes())
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, trader.StatusSettled, out.Status)
	assert.True(t, out.Settled())
	assert.Empty(t, out.BookkeepingErrors)
	assert.Equal(t, "0xabc", out.Result.TxID)
	assert.InDelta(t, 0.45, out.ExpectedCost, 1e-9)

	require.NotNil(t, out.Delta.CashDelta)
	assert.InDelta(t, -0.45, *out.Delta.CashDelta, 1e-9)
	assert.Equal(t, []float64{1, 0}, out.Delta.SharesDelta)

	var types []domain.EventType
	for _, e := range f.events(t) {
		types = append(types, e.Type)
	}
	assert.Equal(t, []domain.EventType{
		domain.EventSnapshot,
		domain.EventOrderIntent,
		domain.EventTxSubmitted,
		domain.EventTxResult,
		domain.EventSnapshot,
		domain.EventTradeDelta,
	}, types)

	st, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Stats.TradesTotal)
	assert.Equal(t, 1, st.Stats.TradesToday)
	require.NotNil(t, st.Stats.LastTradeTS)
	assert.True(t, f.now.Equal(*st.Stats.LastTradeTS))
	assert.Nil(t, st.Stats.LastError)
	assert.Len(t, st.NAVSeries, 2, "before and after snapshots are both recorded")
}

func TestExecute_IntentPayload(t *testing.T) {
	f := newFixture(t)

	_, err := f.exec.Execute(context.Background(), buyYes())
	require.NoError(t, err)

	for _, e := range f.events(t) {
		if e.Type != domain.EventOrderIntent {
			continue
		}
		var p domain.OrderIntentPayload
		require.NoError(t, e.DecodePayload(&p))
		assert.False(t, p.Blocked)
		assert.Equal(t, "edge on yes", p.Reason)
		require.NotNil(t, p.ExpectedCost)
		assert.InDelta(t, 0.45, *p.ExpectedCost, 1e-9)
		assert.Equal(t, wallet, e.Meta["walletAddress"])
		assert.Equal(t, "m1", e.Meta["marketId"])
	}
}

func TestExecute_CooldownBlocksImmediateTrade(t *testing.T) {
	f := newFixture(t)
	last := f.now.Add(-10 * time.Second)
	f.seedState(t, func(st *domain.State) {
		st.Stats.LastTradeTS = &last
		st.Stats.TradesToday = 1
		st.Risk.CooldownSec = 60
	})

	out, err := f.exec.Execute(context.Background(), buyYes())
	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, domain.ErrCooldown)
	assert.False(t, domain.IsFatal(err))

	var rl *domain.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 50*time.Second, rl.Wait)

	events := f.events(t)
	assert.Equal(t, 0, countType(events, domain.EventTxSubmitted))
	assert.Equal(t, 1, countType(events, domain.EventTradeRejected))
	assert.Equal(t, 0, f.chain.positionCalls)
	assert.Equal(t, 0, f.chain.quoteCalls)
}

func TestExecute_CooldownOverrideFromRequest(t *testing.T) {
	f := newFixture(t)
	last := f.now
	f.seedState(t, func(st *domain.State) {
		st.Stats.LastTradeTS = &last
	})

	req := buyYes()
	req.CooldownSec = ptr(60)
	_, err := f.exec.Execute(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrCooldown)
	assert.Equal(t, 0, countType(f.events(t), domain.EventTxSubmitted))
}

func TestExecute_DailyCapFailsBeforeSnapshotOrQuote(t *testing.T) {
	f := newFixture(t)
	last := f.now.Add(-time.Hour)
	f.seedState(t, func(st *domain.State) {
		st.Stats.LastTradeTS = &last
		st.Stats.TradesToday = st.Risk.MaxTradesPerDay
	})

	_, err := f.exec.Execute(context.Background(), buyYes())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDailyCap)

	assert.Equal(t, 0, f.chain.positionCalls)
	assert.Equal(t, 0, f.chain.balanceCalls)
	assert.Equal(t, 0, f.chain.quoteCalls)
	assert.Equal(t, 0, countType(f.events(t), domain.EventSnapshot))

	st, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultMaxTradesPerDay, st.Stats.TradesToday, "rejection writes no state")
}

func TestExecute_CostGuardRecordsBlockedIntent(t *testing.T) {
	f := newFixture(t)
	f.chain.tradeCost = 7.5 // default max is 5

	out, err := f.exec.Execute(context.Background(), buyYes())
	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, domain.ErrCostGuard)

	var cg *domain.CostGuardError
	require.ErrorAs(t, err, &cg)
	assert.InDelta(t, 7.5, cg.ExpectedCost, 1e-9)
	assert.InDelta(t, 5, cg.MaxCost, 1e-9)

	events := f.events(t)
	require.Equal(t, 1, countType(events, domain.EventOrderIntent))
	assert.Equal(t, 0, countType(events, domain.EventTxSubmitted))
	assert.Equal(t, 0, f.chain.buildCalls)
	assert.Equal(t, 0, f.chain.submitCalls)

	for _, e := range events {
		if e.Type == domain.EventOrderIntent {
			var p domain.OrderIntentPayload
			require.NoError(t, e.DecodePayload(&p))
			assert.True(t, p.Blocked)
			require.NotNil(t, p.MaxCost)
			assert.InDelta(t, 5, *p.MaxCost, 1e-9)
			assert.Contains(t, p.Reason, "blocked")
		}
	}
}

func TestExecute_NonFiniteQuoteIsRejected(t *testing.T) {
	for name, cost := range map[string]float64{
		"+Inf": math.Inf(1),
		"-Inf": math.Inf(-1),
		"NaN":  math.NaN(),
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.chain.tradeCost = cost

			out, err := f.exec.Execute(context.Background(), buyYes())
			require.Error(t, err)
			assert.Nil(t, out)
			assert.Contains(t, err.Error(), "not finite")

			events := f.events(t)
			assert.Equal(t, 1, countType(events, domain.EventTradeRejected))
			assert.Equal(t, 0, countType(events, domain.EventOrderIntent))
			assert.Equal(t, 0, countType(events, domain.EventTxSubmitted))
			assert.Equal(t, 0, f.chain.buildCalls)
		})
	}
}

func TestExecute_RequestMaxCostOverridesRisk(t *testing.T) {
	f := newFixture(t)
	f.chain.tradeCost = 7.5

	req := buyYes()
	req.MaxCost = ptr(10)
	out, err := f.exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, trader.StatusSettled, out.Status)
}

func TestExecute_DayRolloverResetsBeforeCap(t *testing.T) {
	f := newFixture(t)
	yesterday := f.now.Add(-24 * time.Hour)
	f.seedState(t, func(st *domain.State) {
		st.Stats.LastTradeTS = &yesterday
		st.Stats.TradesToday = st.Risk.MaxTradesPerDay
		st.Stats.TradesTotal = 40
	})

	_, err := f.exec.Execute(context.Background(), buyYes())
	require.NoError(t, err)

	st, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Stats.TradesToday)
	assert.Equal(t, 41, st.Stats.TradesTotal)
}

func TestExecute_TradeDeltaAppendFailureIsBookkeeping(t *testing.T) {
	f := newFixture(t)
	f.ledger.fail[domain.EventTradeDelta] = errors.New("disk full")

	out, err := f.exec.Execute(context.Background(), buyYes())
	require.NoError(t, err, "the order went through; bookkeeping errors are not returned")
	require.NotNil(t, out)
	assert.Equal(t, trader.StatusBookkeepingIncomplete, out.Status)
	require.Len(t, out.BookkeepingErrors, 1)
	assert.Contains(t, out.BookkeepingErrors[0].Error(), "trade_delta")

	st, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Stats.TradesTotal)
	require.NotNil(t, st.Stats.LastError)
	assert.Contains(t, *st.Stats.LastError, "disk full")
}

func TestExecute_StateSaveFailureAfterSubmitIsBookkeeping(t *testing.T) {
	f := newFixture(t)
	f.store.failAt = 3 // snapshot antes, snapshot después, contadores

	out, err := f.exec.Execute(context.Background(), buyYes())
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, trader.StatusBookkeepingIncomplete, out.Status)
	require.Len(t, out.BookkeepingErrors, 1)
	assert.Contains(t, out.BookkeepingErrors[0].Error(), "state update")
	assert.ErrorIs(t, out.BookkeepingErrors[0], domain.ErrPersistence)
	assert.Equal(t, 1, f.chain.submitCalls)

	events := f.events(t)
	assert.Equal(t, 1, countType(events, domain.EventTradeDelta))

	st, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, st.Stats.TradesTotal, "the counters write is the one that failed")
}

func TestExecute_AfterSnapshotFailureFallsBackToCapture(t *testing.T) {
	f := newFixture(t)
	f.store.failAt = 2 // Record del snapshot después

	out, err := f.exec.Execute(context.Background(), buyYes())
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, trader.StatusBookkeepingIncomplete, out.Status)
	require.Len(t, out.BookkeepingErrors, 1)
	assert.Contains(t, out.BookkeepingErrors[0].Error(), "after snapshot")

	assert.Nil(t, out.After.NAV, "plain capture carries no valuation")
	require.NotNil(t, out.After.Snapshot.CashBalance)
	require.NotNil(t, out.Delta.CashDelta)
	assert.InDelta(t, -0.45, *out.Delta.CashDelta, 1e-9)
	assert.Equal(t, []float64{1, 0}, out.Delta.SharesDelta)

	st, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Stats.TradesTotal)
	require.NotNil(t, st.Stats.LastError)
	assert.Contains(t, *st.Stats.LastError, "after snapshot")
}

func TestExecute_SubmitFailure(t *testing.T) {
	f := newFixture(t)
	f.chain.submitErr = errors.New("nonce too low")

	out, err := f.exec.Execute(context.Background(), buyYes())
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Contains(t, err.Error(), "nonce too low")

	events := f.events(t)
	assert.Equal(t, 1, countType(events, domain.EventTxSubmitted))
	assert.Equal(t, 0, countType(events, domain.EventTradeDelta))

	var txResult *domain.TxPayload
	for _, e := range events {
		if e.Type == domain.EventTxResult {
			txResult = &domain.TxPayload{}
			require.NoError(t, e.DecodePayload(txResult))
		}
	}
	require.NotNil(t, txResult)
	assert.Contains(t, txResult.Error, "nonce too low")
	assert.Nil(t, txResult.Result)

	st, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, st.Stats.TradesTotal)
	require.NotNil(t, st.Stats.LastError)
}

func TestExecute_SignFailureSubmitsNothing(t *testing.T) {
	f := newFixture(t)
	f.signer.err = errors.New("locked key")

	_, err := f.exec.Execute(context.Background(), buyYes())
	require.Error(t, err)
	assert.Equal(t, 0, f.chain.submitCalls)
	assert.Equal(t, 0, countType(f.events(t), domain.EventTxSubmitted))
}

func TestExecute_TxSubmittedAppendFailureSubmitsNothing(t *testing.T) {
	f := newFixture(t)
	f.ledger.fail[domain.EventTxSubmitted] = errors.New("ledger closed")

	_, err := f.exec.Execute(context.Background(), buyYes())
	require.Error(t, err)
	assert.Equal(t, 0, f.chain.submitCalls)
}

func TestExecute_NavMarketsAreDeduplicated(t *testing.T) {
	f := newFixture(t)

	req := buyYes()
	req.MarketsForNAV = []string{"m2", "m1", "m2"}
	out, err := f.exec.Execute(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, out.Before.Snapshot.Markets, 2)
	assert.Equal(t, "m1", out.Before.Snapshot.Markets[0].MarketID)
	assert.Equal(t, "m2", out.Before.Snapshot.Markets[1].MarketID)
}

func TestExecute_WalletMismatchIsFatal(t *testing.T) {
	f := newFixture(t)
	f.seedState(t, func(*domain.State) {})

	req := buyYes()
	req.WalletAddress = "0xOther"
	_, err := f.exec.Execute(context.Background(), req)
	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
	assert.Empty(t, f.events(t))
}

func TestExecute_InvalidRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.exec.Execute(context.Background(), trader.Request{WalletAddress: wallet, DeltaShares: []float64{1}})
	assert.Error(t, err)

	_, err = f.exec.Execute(context.Background(), trader.Request{WalletAddress: wallet, MarketID: "m1"})
	assert.Error(t, err)
}
