package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugMuxServesPrometheusAndExpvar(t *testing.T) {
	ObserveOrder("entry", nil)
	CapitalReserved.Set(12.5)
	Rotations.Add(1)

	srv := httptest.NewServer(newMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `pairbot_orders_total{purpose="entry",result="filled"}`)
	assert.Contains(t, string(body), "pairbot_capital_reserved_usdc 12.5")

	resp, err = http.Get(srv.URL + "/debug/vars")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `"rotations"`)
	assert.Contains(t, string(body), `"uptime_sec"`)
}

func TestStartAsync_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv, err := StartAsync(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	require.NotNil(t, srv)
	cancel()
}
