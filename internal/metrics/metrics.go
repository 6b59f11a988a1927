package metrics

import (
	"expvar"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairbot_orders_total",
		Help: "Order attempts by purpose and result",
	}, []string{"purpose", "result"})

	ExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairbot_exits_total",
		Help: "Exit waterfall actions by rule",
	}, []string{"rule"})

	ForceHedgesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairbot_force_hedges_total",
		Help: "Forced hedges of naked legs by result",
	}, []string{"result"})

	CapitalReserved = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairbot_capital_reserved_usdc",
		Help: "Capital reserved by in-flight orders",
	})

	WalletBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairbot_wallet_balance_usdc",
		Help: "Last observed wallet balance",
	})

	Drawdown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairbot_session_drawdown_ratio",
		Help: "Session drawdown (starting-wallet)/starting",
	})

	RealizedPnL = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pairbot_realized_pnl_usdc",
		Help: "Realized PnL per coin",
	}, []string{"coin"})

	Exposure = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pairbot_exposure_usdc",
		Help: "Open cycle cost per coin",
	}, []string{"coin"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairbot_active_workers",
		Help: "Markets currently watched",
	})

	// expvar 计数器（/debug/vars）
	Rotations     = expvar.NewInt("rotations")
	OrphanResumes = expvar.NewInt("orphan_resumes")
	LedgerErrors  = expvar.NewInt("ledger_errors")
	FeedReconnect = expvar.NewInt("feed_reconnects")
	TicksDropped  = expvar.NewInt("ticks_dropped")
)

// ObserveOrder 记录一次下单结果
func ObserveOrder(purpose string, err error) {
	result := "filled"
	if err != nil {
		result = "failed"
	}
	OrdersTotal.WithLabelValues(purpose, result).Inc()
}
