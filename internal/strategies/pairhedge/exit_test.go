package pairhedge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/pairbot/internal/domain"
)

func book(bid, size float64) *domain.OrderBook {
	return &domain.OrderBook{Bids: []domain.PriceLevel{{Price: bid, Size: size}}}
}

func staticBooks(yes, no *domain.OrderBook) bookSource {
	return func() (*domain.OrderBook, *domain.OrderBook, error) { return yes, no, nil }
}

func TestPlanExit_Priority(t *testing.T) {
	cfg := testConfig(t)
	base := exitInputs{
		yes:       SideSnapshot{Shares: 10, Cost: 4, AvgPrice: 0.40},
		no:        SideSnapshot{Shares: 10, Cost: 4.5, AvgPrice: 0.45},
		yesHeld:   10,
		noHeld:    10,
		totalCost: 8.5,
	}

	cases := []struct {
		name      string
		remaining time.Duration
		yes, no   *domain.OrderBook
		want      ExitRule
		blocked   bool
	}{
		// pair cost 0.85 也满足 sum target，但部分回平优先
		{"partial unwind beats sum target", 30 * time.Second, book(0.95, 100), book(0.04, 100), RulePartialUnwind, false},
		{"partial unwind blocked by depth", 30 * time.Second, book(0.95, 3), book(0.04, 100), RulePartialUnwind, true},
		{"late dominance when no leg dominates", 50 * time.Second, book(0.60, 100), book(0.45, 100), RuleLateDominance, false},
		{"sum target far from resolution", 10 * time.Minute, book(0.30, 100), book(0.30, 100), RuleSumTarget, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			in.remaining = tc.remaining
			plan, err := planExit(&cfg, in, staticBooks(tc.yes, tc.no))
			require.NoError(t, err)
			assert.Equal(t, tc.want, plan.rule)
			assert.Equal(t, tc.blocked, plan.blocked != "")
		})
	}
}

func TestPlanExit_EarlyProfitSellsThinnerLegFirst(t *testing.T) {
	cfg := testConfig(t)
	in := exitInputs{
		remaining: 10 * time.Minute,
		yes:       SideSnapshot{Shares: 10, Cost: 5, AvgPrice: 0.50},
		no:        SideSnapshot{Shares: 10, Cost: 5.2, AvgPrice: 0.52},
		yesHeld:   10,
		noHeld:    10,
		totalCost: 10.2,
	}
	plan, err := planExit(&cfg, in, staticBooks(book(0.60, 50), book(0.55, 20)))
	require.NoError(t, err)
	require.Equal(t, RuleEarlyProfit, plan.rule)
	require.Len(t, plan.legs, 2)
	assert.Equal(t, domain.LegNo, plan.legs[0].leg)
	assert.Equal(t, domain.LegYes, plan.legs[1].leg)
	assert.InDelta(t, 0.58, plan.legs[1].target, 1e-9)
	assert.Empty(t, plan.blocked)
}

func TestPlanExit_NoBooksWhenNotNeeded(t *testing.T) {
	cfg := testConfig(t)
	in := exitInputs{remaining: 10 * time.Minute}
	plan, err := planExit(&cfg, in, func() (*domain.OrderBook, *domain.OrderBook, error) {
		t.Fatal("books should not be fetched without cost")
		return nil, nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, RuleNone, plan.rule)
}

func TestWorker_EarlyExitAbortsOnFirstLegFailure(t *testing.T) {
	h := newHarness(t, testConfig(t), 10*time.Minute)
	ctx := context.Background()
	w, t0 := h.w, h.t0

	w.pos.RecordFill(domain.LegYes, 10, 0.50, t0)
	w.pos.RecordFill(domain.LegNo, 10, 0.52, t0)
	h.gw.setBid("tok-yes", 0.60, 50)
	h.gw.setBid("tok-no", 0.55, 50)
	h.gw.place = func(int, domain.OrderRequest) (*domain.OrderResult, error) { return nil, errGateway }

	assert.Equal(t, RuleNone, w.evaluateExits(ctx, t0))
	assert.Equal(t, StatusScanning, w.pos.Status())
	assert.True(t, w.pos.Proceeds().IsZero())
	assert.Len(t, h.gw.placed(), 1)
}

func TestWorker_EarlyExitDumpsResidual(t *testing.T) {
	h := newHarness(t, testConfig(t), 10*time.Minute)
	ctx := context.Background()
	w, t0 := h.w, h.t0

	w.pos.RecordFill(domain.LegYes, 10, 0.50, t0)
	w.pos.RecordFill(domain.LegNo, 10, 0.52, t0)
	h.gw.setBid("tok-yes", 0.60, 50)
	h.gw.setBid("tok-no", 0.55, 20)
	// 第二腿（yes）只成交 6 份，剩余 4 份走紧急折价
	h.gw.place = func(n int, req domain.OrderRequest) (*domain.OrderResult, error) {
		filled := req.Size
		if n == 2 {
			filled = 6
		}
		return &domain.OrderResult{FilledSize: filled, AvgPrice: req.Price}, nil
	}

	require.Equal(t, RuleEarlyProfit, w.evaluateExits(ctx, t0))
	assert.Equal(t, StatusComplete, w.pos.Status())

	orders := h.gw.placed()
	require.Len(t, orders, 3)
	assert.Equal(t, "tok-no", orders[0].TokenID)
	assert.Equal(t, "tok-yes", orders[1].TokenID)
	assert.Equal(t, "tok-yes", orders[2].TokenID)
	assert.InDelta(t, 4, orders[2].Size, 1e-9)
	assert.InDelta(t, 0.42, orders[2].Price, 1e-9)
	for _, o := range orders {
		assert.Equal(t, domain.SideSell, o.Side)
	}
	assert.Zero(t, w.pos.Held(domain.LegYes))
	assert.Zero(t, h.guard.Reserved(), "sells never reserve capital")

	stats, err := h.ledger.GetCoinStats(ctx, "btc")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CyclesWon)
	// 10×0.53 + 6×0.58 + 4×0.42 − 10.2
	assert.InDelta(t, 0.26, stats.RealizedPnL.InexactFloat64(), 1e-6)
}

func TestWorker_PartialUnwindKeepsCycleOpen(t *testing.T) {
	h := newHarness(t, testConfig(t), 30*time.Second)
	ctx := context.Background()
	w, t0 := h.w, h.t0

	w.pos.RecordFill(domain.LegYes, 10, 0.40, t0)
	w.pos.RecordFill(domain.LegNo, 10, 0.45, t0)
	w.syncCycle(ctx)
	h.gw.setBid("tok-yes", 0.95, 100)
	h.gw.setBid("tok-no", 0.04, 100)

	require.Equal(t, RulePartialUnwind, w.evaluateExits(ctx, t0))
	assert.Equal(t, StatusPartialUnwind, w.pos.Status())
	assert.Zero(t, w.pos.Held(domain.LegYes))
	assert.InDelta(t, 10, w.pos.Held(domain.LegNo), 1e-9)

	open, err := h.ledger.OpenCycles(ctx, "btc")
	require.NoError(t, err)
	assert.Len(t, open, 1)

	// PartialUnwind 不可退出，也不会再次触发
	assert.Equal(t, RuleNone, w.evaluateExits(ctx, t0.Add(time.Second)))
}

func TestWorker_ArbLockedHoldsNearResolution(t *testing.T) {
	h := newHarness(t, testConfig(t), 8*time.Second)
	ctx := context.Background()
	w, t0 := h.w, h.t0

	w.pos.RecordFill(domain.LegYes, 10, 0.40, t0)
	w.pos.RecordFill(domain.LegNo, 10, 0.45, t0)
	require.True(t, w.pos.Transition(StatusArbLocked, "test"))

	assert.Equal(t, RuleNone, w.evaluateExits(ctx, t0))
	assert.Empty(t, h.gw.placed())
}

func TestWorker_LateExitSecondLegFailureFallsBackToEmergency(t *testing.T) {
	// 距结算 50s：在 T2 内、T1 外，只有 late dominance 适用
	h := newHarness(t, testConfig(t), 50*time.Second)
	ctx := context.Background()
	w, t0 := h.w, h.t0

	w.pos.RecordFill(domain.LegYes, 10, 0.40, t0)
	w.pos.RecordFill(domain.LegNo, 10, 0.45, t0)
	w.syncCycle(ctx)
	h.gw.setBid("tok-yes", 0.60, 100)
	h.gw.setBid("tok-no", 0.45, 100)
	// 赢腿成交，之后交易所一直报错：第二腿和紧急折价都失败
	h.gw.place = func(n int, req domain.OrderRequest) (*domain.OrderResult, error) {
		if n == 1 {
			return &domain.OrderResult{FilledSize: req.Size, AvgPrice: req.Price}, nil
		}
		return nil, errGateway
	}

	require.Equal(t, RuleLateDominance, w.evaluateExits(ctx, t0))
	assert.Equal(t, StatusComplete, w.pos.Status())

	orders := h.gw.placed()
	require.Len(t, orders, 3)
	// 赢腿先卖，限价 = bid×(1−2%) 向下取 tick
	assert.Equal(t, "tok-yes", orders[0].TokenID)
	assert.InDelta(t, 0.58, orders[0].Price, 1e-9)
	assert.Equal(t, "tok-no", orders[1].TokenID)
	assert.InDelta(t, 0.44, orders[1].Price, 1e-9)
	// 紧急折价 bid×(1−30%)
	assert.Equal(t, "tok-no", orders[2].TokenID)
	assert.InDelta(t, 0.31, orders[2].Price, 1e-9)
	assert.InDelta(t, 10, orders[2].Size, 1e-9)
	for _, o := range orders {
		assert.Equal(t, domain.SideSell, o.Side)
	}
	assert.InDelta(t, 10, w.pos.Held(domain.LegNo), 1e-9)

	open, err := h.ledger.OpenCycles(ctx, "btc")
	require.NoError(t, err)
	assert.Empty(t, open)
	stats, err := h.ledger.GetCoinStats(ctx, "btc")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CyclesCompleted)
	assert.Equal(t, 1, stats.CyclesLost)
	// 10×0.58 − 8.5，卖不掉的 NO 按 0 计
	assert.InDelta(t, -2.7, stats.RealizedPnL.InexactFloat64(), 1e-6)
}

func TestWorker_HandleTickDipTriggersEntry(t *testing.T) {
	h := newHarness(t, testConfig(t), 10*time.Minute)
	ctx := context.Background()
	w, t0 := h.w, h.t0

	w.handleTick(ctx, domain.PriceTick{TokenID: "tok-yes", Price: 0.50, Timestamp: t0})
	w.wg.Wait()
	assert.Empty(t, h.gw.placed(), "no dip yet")

	// 0.50 → 0.39：跌幅 22% ≥ 20%
	w.handleTick(ctx, domain.PriceTick{TokenID: "tok-yes", Price: 0.39, Timestamp: t0.Add(time.Second)})
	w.wg.Wait()

	orders := h.gw.placed()
	require.Len(t, orders, 1)
	assert.Equal(t, "tok-yes", orders[0].TokenID)
	assert.Equal(t, domain.SideBuy, orders[0].Side)
	assert.InDelta(t, 0.39, orders[0].Price, 1e-9)
	assert.InDelta(t, 10, orders[0].Size, 1e-9)
	assert.InDelta(t, 0.39, w.lastPrice(domain.LegYes), 1e-9)

	snap := w.Snapshot()
	assert.InDelta(t, 10, snap.Yes.Shares, 1e-9)
	assert.Zero(t, h.guard.InFlight())

	open, err := h.ledger.OpenCycles(ctx, "btc")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.InDelta(t, 3.9, open[0].TotalCost().InexactFloat64(), 1e-9)
}
