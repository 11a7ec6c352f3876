package belief

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/beliefbot/internal/domain"
	"github.com/alejandrodnm/beliefbot/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ports.MarketProvider = (*Client)(nil)

func newTestClient(srv *httptest.Server) *Client {
	c := NewClient(srv.URL)
	c.retryWait = time.Millisecond
	return c
}

func serveFixture(t *testing.T, path, fixture string) *httptest.Server {
	t.Helper()
	data, err := os.ReadFile("testdata/" + fixture)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, path, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMarketMeta_Fixture(t *testing.T) {
	srv := serveFixture(t, "/markets/mkt_7f3a", "market.json")

	meta, err := newTestClient(srv).MarketMeta(context.Background(), "mkt_7f3a")
	require.NoError(t, err)
	assert.Equal(t, "Who wins the 2026 league?", meta.Title)
	assert.Equal(t, []string{"Team A", "Team B", "Answer 2"}, meta.Outcomes)
}

func TestPosition_Fixture(t *testing.T) {
	var gotWallet string
	data, err := os.ReadFile("testdata/position.json")
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets/mkt_7f3a/position", r.URL.Path)
		gotWallet = r.URL.Query().Get("wallet")
		w.Write(data)
	}))
	defer srv.Close()

	pos, err := newTestClient(srv).Position(context.Background(), "mkt_7f3a", "0xWallet")
	require.NoError(t, err)
	assert.Equal(t, "0xWallet", gotWallet)
	assert.Equal(t, []float64{10, 0, 2.5}, pos.Shares)
	require.NotNil(t, pos.SettlementBalance)
	assert.InDelta(t, 42.125, *pos.SettlementBalance, 1e-9)
}

func TestPrices_Fixture(t *testing.T) {
	srv := serveFixture(t, "/markets/mkt_7f3a/prices", "prices.json")

	prices, err := newTestClient(srv).Prices(context.Background(), "mkt_7f3a")
	require.NoError(t, err)
	require.Len(t, prices, 3)
	assert.Equal(t, "Team B", prices[1].Outcome)
	assert.InDelta(t, 0.30, prices[1].Price, 1e-9)
}

func TestTradeCost_SendsDeltaAndRetries5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/markets/m1/cost", r.URL.Path)

		var body costRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []float64{-10, 0}, body.DeltaShares)

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"data":{"costUsdc":"-4.2"}}`))
	}))
	defer srv.Close()

	cost, err := newTestClient(srv).TradeCost(context.Background(), "m1", []float64{-10, 0})
	require.NoError(t, err)
	assert.InDelta(t, -4.2, cost, 1e-9)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGet_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"market not found"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).MarketMeta(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGet_ServerErrorExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Prices(context.Background(), "m1")
	require.Error(t, err)
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestBuildOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets/m1/orders/build", r.URL.Path)
		var body buildRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0xWallet", body.Wallet)
		assert.Equal(t, []float64{1, 0}, body.DeltaShares)
		w.Write([]byte(`{"transaction":"AQIDBA=="}`))
	}))
	defer srv.Close()

	tx, err := newTestClient(srv).BuildOrder(context.Background(), "m1", "0xWallet", []float64{1, 0})
	require.NoError(t, err)
	assert.Equal(t, "m1", tx.MarketID)
	assert.Equal(t, []byte("AQIDBA=="), tx.Payload)
}

func TestSubmitOrder_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"transaction":"AQIDBA==","signature":"0x0102","signer":"0xWallet"}`, string(b))
		w.Write([]byte(`{"txId":"0xfeed","status":"confirmed"}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv).SubmitOrder(context.Background(), domain.SignedTx{
		Payload:   []byte("AQIDBA=="),
		Signature: []byte{1, 2},
		Signer:    "0xWallet",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", res.TxID)
	assert.Equal(t, "confirmed", res.Status)
}

func TestSubmitOrder_NeverRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).SubmitOrder(context.Background(), domain.SignedTx{Payload: []byte("x")})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
