package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/pairbot/internal/journal"
	"github.com/betbot/pairbot/internal/ledger"
	"github.com/betbot/pairbot/internal/strategies/pairhedge"
)

func newTestServer(t *testing.T) (http.Handler, *ledger.Ledger, *journal.Journal) {
	t.Helper()
	l := ledger.New(ledger.NewFileStore(t.TempDir(), "test"))
	t.Cleanup(func() { _ = l.Close() })
	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	s, err := New(Config{
		Ledger:        l,
		Journal:       j,
		DrawdownLimit: 0.10,
		Positions: func() []pairhedge.PositionSnapshot {
			return []pairhedge.PositionSnapshot{{Market: "btc-updown-15m-1765985400", Coin: "btc", Status: pairhedge.StatusScanning}}
		},
	})
	require.NoError(t, err)
	return s.Router(), l, j
}

func get(t *testing.T, h http.Handler, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestRouter_Stats(t *testing.T) {
	h, l, _ := newTestServer(t)
	ctx := context.Background()
	_, err := l.StartCycle(ctx, ledger.CycleInfo{MarketID: "btc-1", Coin: "btc", EndTime: time.Now().Add(time.Minute)})
	require.NoError(t, err)
	_, err = l.CloseCycle(ctx, "btc-1", ledger.CycleWin, decimal.NewFromFloat(1.5))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, get(t, h, "/healthz", nil))

	var st ledger.State
	require.Equal(t, http.StatusOK, get(t, h, "/api/stats", &st))
	require.Contains(t, st.Coins, "btc")
	assert.Equal(t, 1, st.Coins["btc"].CyclesWon)

	var coin struct {
		Coin  string           `json:"coin"`
		Stats ledger.CoinStats `json:"stats"`
	}
	require.Equal(t, http.StatusOK, get(t, h, "/api/stats/bitcoin", &coin))
	assert.Equal(t, "btc", coin.Coin)
	assert.True(t, coin.Stats.RealizedPnL.Equal(decimal.NewFromFloat(1.5)))

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/stats/doge", nil))
}

func TestRouter_Drawdown(t *testing.T) {
	h, l, _ := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, l.UpdateWalletBalance(ctx, 100))
	require.NoError(t, l.UpdateWalletBalance(ctx, 89))

	var out struct {
		Tripped  bool    `json:"tripped"`
		Drawdown float64 `json:"drawdown"`
		Limit    float64 `json:"limit"`
	}
	require.Equal(t, http.StatusOK, get(t, h, "/api/drawdown", &out))
	assert.True(t, out.Tripped)
	assert.InDelta(t, 0.11, out.Drawdown, 1e-9)

	require.Equal(t, http.StatusOK, get(t, h, "/api/drawdown?limit=0.2", &out))
	assert.False(t, out.Tripped)
	assert.Equal(t, 0.2, out.Limit)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/drawdown?limit=abc", nil))
}

func TestRouter_PositionsAndOrders(t *testing.T) {
	h, _, j := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, j.RecordOrder(ctx, journal.OrderRecord{Market: "btc-1", Purpose: "entry", Leg: "yes", Side: "BUY", Price: 0.4, Size: 10, FilledSize: 10, AvgPrice: 0.4}))
	require.NoError(t, j.RecordOrder(ctx, journal.OrderRecord{Market: "eth-1", Purpose: "entry", Leg: "no", Side: "BUY", Price: 0.5, Size: 5}))
	require.NoError(t, j.RecordTransition(ctx, journal.TransitionRecord{Market: "btc-1", From: "Scanning", To: "ArbLocked", Reason: "force hedge"}))

	var positions []pairhedge.PositionSnapshot
	require.Equal(t, http.StatusOK, get(t, h, "/api/positions", &positions))
	require.Len(t, positions, 1)
	assert.Equal(t, pairhedge.StatusScanning, positions[0].Status)

	var orders []journal.OrderRecord
	require.Equal(t, http.StatusOK, get(t, h, "/api/orders?market=btc-1", &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "entry", orders[0].Purpose)

	require.Equal(t, http.StatusOK, get(t, h, "/api/orders?limit=1", &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "eth-1", orders[0].Market)

	var trs []journal.TransitionRecord
	require.Equal(t, http.StatusOK, get(t, h, "/api/transitions/btc-1", &trs))
	require.Len(t, trs, 1)
	assert.Equal(t, "ArbLocked", trs[0].To)
}
