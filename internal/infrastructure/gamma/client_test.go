package gamma

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/pairbot/internal/ports"
	"github.com/betbot/pairbot/pkg/config"
	"github.com/betbot/pairbot/pkg/marketspec"
)

func event(slug string, closed bool, outcomes, tokens, end string) map[string]any {
	return map[string]any{
		"slug":   slug,
		"closed": closed,
		"markets": []map[string]any{{
			"slug":         slug,
			"conditionId":  "0xcond-" + slug,
			"question":     "Bitcoin Up or Down?",
			"outcomes":     outcomes,
			"clobTokenIds": tokens,
			"endDate":      end,
			"closed":       closed,
		}},
	}
}

func newTestClient(t *testing.T, events map[string]map[string]any, now time.Time) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/events", r.URL.Path)
		out := []any{}
		if ev, ok := events[r.URL.Query().Get("slug")]; ok {
			out = append(out, ev)
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	c := New(config.ExchangeConfig{GammaHost: srv.URL})
	c.now = func() time.Time { return now }
	return c
}

func TestJSONList(t *testing.T) {
	var l jsonList
	require.NoError(t, json.Unmarshal([]byte(`"[\"a\",\"b\"]"`), &l))
	assert.Equal(t, jsonList{"a", "b"}, l)
	require.NoError(t, json.Unmarshal([]byte(`["c"]`), &l))
	assert.Equal(t, jsonList{"c"}, l)
	require.NoError(t, json.Unmarshal([]byte(`""`), &l))
	assert.Nil(t, l)
}

func TestFindActiveMarket(t *testing.T) {
	now := time.Date(2025, 12, 17, 15, 20, 0, 0, time.UTC)
	// 当前周期 15:15 开始
	cur := "btc-updown-15m-1765984500"
	next := "btc-updown-15m-1765985400"
	c := newTestClient(t, map[string]map[string]any{
		cur:  event(cur, true, `["Up","Down"]`, `["t1","t2"]`, "2025-12-17T15:30:00Z"),
		next: event(next, false, `["Down","Up"]`, `["d-tok","u-tok"]`, "2025-12-17T15:45:00Z"),
	}, now)

	m, err := c.FindActiveMarket(context.Background(), marketspec.InstrumentBTC, marketspec.Timeframe15m)
	require.NoError(t, err)
	assert.Equal(t, next, m.Slug)
	assert.Equal(t, "u-tok", m.YesTokenID)
	assert.Equal(t, "d-tok", m.NoTokenID)
	assert.Equal(t, "btc", m.Instrument)
	assert.True(t, m.EndTime.Equal(time.Date(2025, 12, 17, 15, 45, 0, 0, time.UTC)))
}

func TestFindActiveMarket_None(t *testing.T) {
	c := newTestClient(t, nil, time.Now())
	_, err := c.FindActiveMarket(context.Background(), marketspec.InstrumentETH, marketspec.Timeframe15m)
	assert.ErrorIs(t, err, ports.ErrNoActiveMarket)
}

func TestMarketBySlug_Closed(t *testing.T) {
	slug := "sol-updown-15m-1765984500"
	c := newTestClient(t, map[string]map[string]any{
		slug: event(slug, true, `["Up","Down"]`, `["y","n"]`, "2025-12-17T15:30:00Z"),
	}, time.Now())

	m, err := c.MarketBySlug(context.Background(), slug)
	require.NoError(t, err)
	assert.Equal(t, "sol", m.Instrument)
	assert.Equal(t, "y", m.YesTokenID)

	_, err = c.MarketBySlug(context.Background(), "sol-updown-15m-1")
	assert.ErrorIs(t, err, ports.ErrNoActiveMarket)
}

func TestFindActiveMarket_CachesLookups(t *testing.T) {
	now := time.Date(2025, 12, 17, 15, 20, 0, 0, time.UTC)
	cur := "btc-updown-15m-1765984500"
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		out := []any{}
		if r.URL.Query().Get("slug") == cur {
			out = append(out, event(cur, false, `["Up","Down"]`, `["t1","t2"]`, "2025-12-17T15:30:00Z"))
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()
	c := New(config.ExchangeConfig{GammaHost: srv.URL})
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		m, err := c.FindActiveMarket(context.Background(), marketspec.InstrumentBTC, marketspec.Timeframe15m)
		require.NoError(t, err)
		assert.Equal(t, cur, m.Slug)
	}
	assert.EqualValues(t, 1, hits.Load())

	now = now.Add(openTTL)
	_, err := c.FindActiveMarket(context.Background(), marketspec.InstrumentBTC, marketspec.Timeframe15m)
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())
}
