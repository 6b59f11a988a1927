package rotation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/betbot/pairbot/internal/domain"
	"github.com/betbot/pairbot/internal/ledger"
	"github.com/betbot/pairbot/internal/ports"
	"github.com/betbot/pairbot/internal/risk"
	"github.com/betbot/pairbot/pkg/config"
	"github.com/betbot/pairbot/pkg/marketspec"
)

type fakeGateway struct {
	mu      sync.Mutex
	balance float64
}

func (g *fakeGateway) setBalance(v float64) {
	g.mu.Lock()
	g.balance = v
	g.mu.Unlock()
}

func (g *fakeGateway) PlaceOrder(context.Context, domain.OrderRequest) (*domain.OrderResult, error) {
	return nil, ports.ErrNotFilled
}

func (g *fakeGateway) GetBalance(context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balance, nil
}

func (g *fakeGateway) GetOrderBook(_ context.Context, tokenID string) (*domain.OrderBook, error) {
	return &domain.OrderBook{TokenID: tokenID}, nil
}

type fakeDiscovery struct {
	mu     sync.Mutex
	active *domain.Market
	bySlug map[string]*domain.Market
	finds  int
}

func (d *fakeDiscovery) FindActiveMarket(context.Context, marketspec.Instrument, marketspec.Timeframe) (*domain.Market, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finds++
	if d.active == nil {
		return nil, ports.ErrNoActiveMarket
	}
	cp := *d.active
	return &cp, nil
}

func (d *fakeDiscovery) MarketBySlug(_ context.Context, slug string) (*domain.Market, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.bySlug[slug]
	if !ok {
		return nil, fmt.Errorf("slug %s: %w", slug, ports.ErrNoActiveMarket)
	}
	cp := *m
	return &cp, nil
}

type fakeFeed struct {
	mu     sync.Mutex
	ticks  chan domain.PriceTick
	subs   []string
	unsubs []string
}

func newFakeFeed() *fakeFeed { return &fakeFeed{ticks: make(chan domain.PriceTick, 16)} }

func (f *fakeFeed) Subscribe(_ context.Context, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, ids...)
	return nil
}

func (f *fakeFeed) Unsubscribe(ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs, ids...)
	return nil
}

func (f *fakeFeed) Ticks() <-chan domain.PriceTick { return f.ticks }

func (f *fakeFeed) snapshot() (subs, unsubs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subs...), append([]string(nil), f.unsubs...)
}

type env struct {
	c      *Controller
	gw     *fakeGateway
	disc   *fakeDiscovery
	feed   *fakeFeed
	ledger *ledger.Ledger
	guard  *risk.CapitalGuard
	fatals []string
	t0     time.Time
}

func newEnv(t *testing.T, strategyYAML string) *env {
	t.Helper()
	t0 := time.Date(2025, 12, 17, 15, 20, 0, 0, time.UTC)
	cfg := &config.Config{
		Markets:       []config.MarketSlot{{Instrument: marketspec.InstrumentBTC, Timeframe: marketspec.Timeframe15m}},
		DrawdownLimit: 0.10,
		TimerInterval: 1,
	}
	if strategyYAML != "" {
		var node yaml.Node
		require.NoError(t, yaml.Unmarshal([]byte(strategyYAML), &node))
		cfg.Strategy = node
	}
	e := &env{
		gw:     &fakeGateway{balance: 100},
		disc:   &fakeDiscovery{bySlug: map[string]*domain.Market{}},
		feed:   newFakeFeed(),
		ledger: ledger.New(ledger.NewFileStore(t.TempDir(), "test"), ledger.WithClock(func() time.Time { return t0 })),
		guard:  risk.NewCapitalGuard(),
		t0:     t0,
	}
	t.Cleanup(func() { _ = e.ledger.Close() })
	e.c = New(Deps{
		Config:        cfg,
		Gateway:       e.gw,
		Discovery:     e.disc,
		Feed:          e.feed,
		Ledger:        e.ledger,
		Guard:         e.guard,
		Breaker:       risk.NewCircuitBreaker(risk.CircuitBreakerConfig{}),
		Now:           func() time.Time { return t0 },
		Fatal:         func(format string, args ...interface{}) { e.fatals = append(e.fatals, fmt.Sprintf(format, args...)) },
		SetMarketSlug: func(string) error { return nil },
	})
	return e
}

// stop 取消并等待所有 worker 退出
func (e *env) stop(cancel context.CancelFunc) {
	cancel()
	e.c.stopAll()
	e.c.wg.Wait()
}

func market(slug string, end time.Time) *domain.Market {
	return &domain.Market{
		Slug:       slug,
		Instrument: "btc",
		YesTokenID: slug + "-yes",
		NoTokenID:  slug + "-no",
		EndTime:    end,
	}
}

func (e *env) openCycle(t *testing.T, slug string, end time.Time, yesShares, yesCost, noShares, noCost float64) {
	t.Helper()
	ctx := context.Background()
	_, err := e.ledger.StartCycle(ctx, ledger.CycleInfo{MarketID: slug, Coin: "btc", YesTokenID: slug + "-yes", NoTokenID: slug + "-no", EndTime: end})
	require.NoError(t, err)
	require.NoError(t, e.ledger.UpdateCycleCost(ctx, slug, ledger.CycleCosts{
		YesShares: decimal.NewFromFloat(yesShares), YesCost: decimal.NewFromFloat(yesCost),
		NoShares: decimal.NewFromFloat(noShares), NoCost: decimal.NewFromFloat(noCost),
	}))
}

func TestResumeOrphans(t *testing.T) {
	e := newEnv(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer e.stop(cancel)

	expiredPair := "btc-updown-15m-1765983600"
	expiredNaked := "btc-updown-15m-1765982700"
	live := "btc-updown-15m-1765984500"
	e.openCycle(t, expiredPair, e.t0.Add(-5*time.Minute), 10, 4, 10, 5)
	e.openCycle(t, expiredNaked, e.t0.Add(-20*time.Minute), 10, 4, 0, 0)
	e.openCycle(t, live, e.t0.Add(10*time.Minute), 10, 4.1, 0, 0)
	e.disc.bySlug[live] = market(live, e.t0.Add(10*time.Minute))

	e.c.resumeOrphans(ctx)

	stats, err := e.ledger.GetCoinStats(ctx, "btc")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.CyclesCompleted)
	assert.Equal(t, 1, stats.CyclesAbandoned)
	assert.Equal(t, 1, stats.CyclesWon)
	// EXPIRED: 10 − 9 = 1；ABANDON: −4
	assert.True(t, stats.RealizedPnL.Equal(decimal.NewFromInt(-3)), stats.RealizedPnL.String())

	workers := e.c.Workers()
	require.Len(t, workers, 1)
	snap := workers[0].Snapshot()
	assert.Equal(t, live, snap.Market)
	assert.InDelta(t, 10, snap.Yes.Shares, 1e-9)
	assert.InDelta(t, 10, snap.MaxMarketCapital, 1e-9)

	subs, _ := e.feed.snapshot()
	assert.ElementsMatch(t, []string{live + "-yes", live + "-no"}, subs)

	open, err := e.ledger.OpenCycles(ctx, "btc")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, live, open[0].MarketID)
}

func TestResumeOrphans_Unresolvable(t *testing.T) {
	e := newEnv(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer e.stop(cancel)

	slug := "btc-updown-15m-1765984500"
	e.openCycle(t, slug, e.t0.Add(10*time.Minute), 10, 4, 10, 5)

	e.c.resumeOrphans(ctx)

	assert.Empty(t, e.c.Workers())
	stats, err := e.ledger.GetCoinStats(ctx, "btc")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CyclesCompleted)
	assert.Equal(t, 1, stats.CyclesWon)
}

func TestOnTimer_RotatesIntoActiveMarket(t *testing.T) {
	e := newEnv(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer e.stop(cancel)

	slug := "btc-updown-15m-1765984500"
	e.disc.active = market(slug, e.t0.Add(10*time.Minute))
	e.gw.setBalance(250)
	// 上一个市场留下的已完成订单预留
	require.True(t, e.guard.TryReserve(5, 250))
	e.guard.Finish()

	e.c.onTimer(ctx)

	workers := e.c.Workers()
	require.Len(t, workers, 1)
	assert.Equal(t, slug, workers[0].Market().Slug)
	assert.InDelta(t, 25, workers[0].Position().MaxMarketCapital(), 1e-9)
	assert.Zero(t, e.guard.Reserved())
	assert.Empty(t, e.fatals)

	st, err := e.ledger.GetAllStats(ctx)
	require.NoError(t, err)
	assert.True(t, st.StartingBalance.Equal(decimal.NewFromInt(250)))

	// 已有 worker 时不再查询新市场
	finds := e.disc.finds
	e.c.onTimer(ctx)
	assert.Equal(t, finds, e.disc.finds)
}

func TestOnTimer_KeepsReservationsWhileOrdersInFlight(t *testing.T) {
	e := newEnv(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer e.stop(cancel)

	// 另一个 worker 的订单还没返回
	require.True(t, e.guard.TryReserve(5, 100))

	// 没有可交易市场：不清零
	e.c.onTimer(ctx)
	assert.InDelta(t, 5, e.guard.Reserved(), 1e-9)

	// 切换市场时订单仍在途：也不清零
	e.disc.active = market("btc-updown-15m-1765984500", e.t0.Add(10*time.Minute))
	e.c.onTimer(ctx)
	require.Len(t, e.c.Workers(), 1)
	assert.InDelta(t, 5, e.guard.Reserved(), 1e-9)
}

func TestOnTimer_RetiresFinishedWorkerAndSkipsSameMarket(t *testing.T) {
	e := newEnv(t, "timerInterval: 10ms\nresolutionGrace: 1ms\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer e.stop(cancel)

	slug := "btc-updown-15m-1765983600"
	m := market(slug, e.t0.Add(-time.Second))
	e.disc.active = m

	e.c.onTimer(ctx)
	workers := e.c.Workers()
	require.Len(t, workers, 1)

	select {
	case <-workers[0].Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not finish")
	}

	e.c.onTimer(ctx)
	assert.Empty(t, e.c.Workers())
	_, unsubs := e.feed.snapshot()
	assert.ElementsMatch(t, []string{m.YesTokenID, m.NoTokenID}, unsubs)
}

func TestOnTimer_DrawdownIsFatal(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()
	require.NoError(t, e.ledger.UpdateWalletBalance(ctx, 100))
	e.gw.setBalance(89)
	e.disc.active = market("btc-updown-15m-1765984500", e.t0.Add(10*time.Minute))

	e.c.onTimer(ctx)

	require.Len(t, e.fatals, 1)
	assert.Contains(t, e.fatals[0], "11.00%")
	assert.Empty(t, e.c.Workers())
}

func TestRun_StopsOnCancel(t *testing.T) {
	e := newEnv(t, "")
	e.disc.active = market("btc-updown-15m-1765984500", e.t0.Add(10*time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(e.c.Workers()) == 1 }, 5*time.Second, 10*time.Millisecond)
	e.feed.ticks <- domain.PriceTick{TokenID: "unknown", Price: 0.5}
	e.feed.ticks <- domain.PriceTick{TokenID: "btc-updown-15m-1765984500-yes", Price: 0.5}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not stop")
	}
}
