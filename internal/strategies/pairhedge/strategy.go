package pairhedge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/pairbot/internal/domain"
	"github.com/betbot/pairbot/internal/journal"
	"github.com/betbot/pairbot/internal/ledger"
	"github.com/betbot/pairbot/internal/metrics"
	"github.com/betbot/pairbot/internal/ports"
	"github.com/betbot/pairbot/internal/risk"
	"github.com/betbot/pairbot/internal/strategies/common"
)

var log = logrus.WithField("strategy", ID)

// Deps 进程级共享依赖：CapitalGuard 和 Ledger 是所有 worker 唯一共享的可变状态
type Deps struct {
	Gateway ports.ExchangeGateway
	Ledger  *ledger.Ledger
	Guard   *risk.CapitalGuard
	Breaker *risk.CircuitBreaker
	Journal *journal.Journal
	Now     func() time.Time
}

// Worker 一个市场一个 worker：tick 和定时器两个事件源驱动同一个状态机
type Worker struct {
	cfg    Config
	market *domain.Market
	pos    *MarketPosition
	deps   Deps

	dips map[domain.Leg]*DipDetector

	priceMu sync.Mutex
	prices  map[domain.Leg]float64

	tickC    chan domain.PriceTick
	inflight *common.InFlightLimiter
	wg       sync.WaitGroup

	exitRunning  atomic.Bool
	hedgeRunning atomic.Bool
	lastExitEval atomic.Int64
	cycleStarted atomic.Bool

	done     chan struct{}
	doneOnce sync.Once
}

// NewWorker cfg 需要已经 Validate 过
func NewWorker(cfg Config, market *domain.Market, maxMarketCapital float64, deps Deps) *Worker {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	w := &Worker{
		cfg:    cfg,
		market: market,
		pos:    NewMarketPosition(market, maxMarketCapital),
		deps:   deps,
		dips: map[domain.Leg]*DipDetector{
			domain.LegYes: NewDipDetector(cfg.Window.Duration, cfg.DipThreshold),
			domain.LegNo:  NewDipDetector(cfg.Window.Duration, cfg.DipThreshold),
		},
		prices:   make(map[domain.Leg]float64, 2),
		tickC:    make(chan domain.PriceTick, 256),
		inflight: common.NewInFlightLimiter(0),
		done:     make(chan struct{}),
	}
	w.pos.onTransition = func(from, to Status, reason string) {
		_ = w.deps.Journal.RecordTransition(context.Background(), journal.TransitionRecord{
			Market: market.Slug, From: from.String(), To: to.String(), Reason: reason,
		})
	}
	return w
}

func (w *Worker) Market() *domain.Market { return w.market }

// Position 仓位状态机（测试和控制面使用）
func (w *Worker) Position() *MarketPosition { return w.pos }

// Done worker 结束（仓位完成或已到期收尾）时关闭
func (w *Worker) Done() <-chan struct{} { return w.done }

// InFlight 在途的下单/评估任务数
func (w *Worker) InFlight() int { return w.inflight.InFlight() }

func (w *Worker) Snapshot() PositionSnapshot { return w.pos.Snapshot() }

// Seed 重启恢复：用账本里的 open 周期初始化两腿
func (w *Worker) Seed(c *ledger.Cycle) {
	w.pos.Seed(c.YesShares, c.YesCost, c.NoShares, c.NoCost, c.StartTs)
	w.cycleStarted.Store(true)
	log.WithFields(logrus.Fields{
		"market":    w.market.Slug,
		"yesShares": c.YesShares.String(),
		"yesCost":   c.YesCost.String(),
		"noShares":  c.NoShares.String(),
		"noCost":    c.NoCost.String(),
	}).Info("恢复未完成周期")
}

// OnTick 路由进来的价格（非阻塞；满了丢最旧的一条）
func (w *Worker) OnTick(t domain.PriceTick) {
	if common.SendLatest(w.tickC, t) > 0 {
		metrics.TicksDropped.Add(1)
	}
}

func (w *Worker) now() time.Time { return w.deps.Now() }

func (w *Worker) setPrice(leg domain.Leg, price float64) {
	w.priceMu.Lock()
	w.prices[leg] = price
	w.priceMu.Unlock()
}

// lastPrice 最近观测价
func (w *Worker) lastPrice(leg domain.Leg) float64 {
	w.priceMu.Lock()
	defer w.priceMu.Unlock()
	return w.prices[leg]
}

// Run 主循环：ctx 取消、仓位完成或到期收尾后返回
func (w *Worker) Run(ctx context.Context) {
	defer w.doneOnce.Do(func() { close(w.done) })

	ticker := time.NewTicker(w.cfg.TimerInterval.Duration)
	defer ticker.Stop()

	log.WithFields(logrus.Fields{
		"market":           w.market.Slug,
		"endTime":          w.market.EndTime.Format(time.RFC3339),
		"maxMarketCapital": w.pos.MaxMarketCapital(),
	}).Info("开始监控市场")

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return
		case t := <-w.tickC:
			w.handleTick(ctx, t)
		case <-ticker.C:
			if w.onTimer(ctx, w.now()) {
				return
			}
		}
	}
}

// spawn 下单/评估放到独立 goroutine，主循环继续更新价格窗口
func (w *Worker) spawn(ctx context.Context, fn func(context.Context)) {
	w.inflight.TryAcquire()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.inflight.Release()
		defer func() {
			if r := recover(); r != nil {
				log.WithField("market", w.market.Slug).Errorf("worker 任务 panic: %v", r)
			}
		}()
		fn(ctx)
	}()
}

func (w *Worker) handleTick(ctx context.Context, t domain.PriceTick) {
	leg, ok := w.market.LegOf(t.TokenID)
	if !ok || t.Price <= 0 || t.Price >= 1 {
		return
	}
	ts := t.Timestamp
	if ts.IsZero() {
		ts = w.now()
	}
	w.setPrice(leg, t.Price)

	if sig := w.dips[leg].Observe(t.Price, ts); sig.Fired {
		log.WithFields(logrus.Fields{
			"market": w.market.Slug, "leg": leg, "price": t.Price, "max": sig.Max, "drop": sig.Drop, "threshold": w.cfg.DipThreshold,
		}).Debug("dip 信号")
		price := t.Price
		w.spawn(ctx, func(ctx context.Context) {
			if ok, reason := w.tryEnter(ctx, leg, price, ts); !ok {
				log.WithFields(logrus.Fields{"market": w.market.Slug, "leg": leg, "reason": reason}).Debug("dip 信号未执行")
			}
		})
	}

	// tick 触发的退出评估做节流
	last := w.lastExitEval.Load()
	if ts.UnixNano()-last >= int64(w.cfg.ExitThrottle.Duration) && w.lastExitEval.CompareAndSwap(last, ts.UnixNano()) {
		w.spawn(ctx, func(ctx context.Context) { w.evaluateExits(ctx, ts) })
	}
}

// onTimer 定时器：裸露超时、退出评估、到期收尾。返回 true 表示 worker 结束。
func (w *Worker) onTimer(ctx context.Context, now time.Time) bool {
	if w.pos.Status() == StatusComplete && w.InFlight() == 0 {
		return true
	}
	if !now.Before(w.market.EndTime.Add(w.cfg.ResolutionGrace.Duration)) {
		w.wg.Wait()
		w.finalize(ctx, now)
		return true
	}
	w.spawn(ctx, func(ctx context.Context) { w.checkNakedTimeout(ctx, now) })
	w.spawn(ctx, func(ctx context.Context) { w.evaluateExits(ctx, now) })
	return false
}

// finalize 到期收尾：最终价能确认胜方则按 WIN/LOSS 结算，否则按保底收益记 EXPIRED
func (w *Worker) finalize(ctx context.Context, now time.Time) {
	if w.pos.Status() == StatusComplete {
		return
	}
	if !w.pos.HasPosition() {
		w.pos.Transition(StatusComplete, "到期，无仓位")
		return
	}
	yesHeld := decimal.NewFromFloat(w.pos.Held(domain.LegYes))
	noHeld := decimal.NewFromFloat(w.pos.Held(domain.LegNo))
	base := w.pos.Proceeds().Sub(w.pos.TotalCost())
	py, pn := w.lastPrice(domain.LegYes), w.lastPrice(domain.LegNo)
	conf := w.cfg.ResolutionConfidence

	var (
		reason ledger.CycleStatus
		pnl    decimal.Decimal
		winner string
	)
	switch {
	case py >= conf && py >= pn:
		winner, pnl = "yes", base.Add(yesHeld)
	case pn >= conf:
		winner, pnl = "no", base.Add(noHeld)
	default:
		reason, pnl = ledger.CycleExpired, base.Add(decimal.Min(yesHeld, noHeld))
	}
	if winner != "" {
		reason = ledger.CycleLoss
		if pnl.IsPositive() {
			reason = ledger.CycleWin
		}
	}

	log.WithFields(logrus.Fields{
		"market":     w.market.Slug,
		"lastYes":    py,
		"lastNo":     pn,
		"confidence": conf,
		"winner":     winner,
		"yesHeld":    yesHeld.String(),
		"noHeld":     noHeld.String(),
		"cost":       w.pos.TotalCost().StringFixed(4),
		"proceeds":   w.pos.Proceeds().StringFixed(4),
		"pnl":        pnl.StringFixed(4),
		"reason":     reason,
	}).Info("市场到期收尾")
	w.pos.Transition(StatusComplete, fmt.Sprintf("到期收尾 %s", reason))
	w.closeCycle(ctx, reason, pnl)
}

// syncCycle 第一笔成交开启周期，之后每次成交同步累计值
func (w *Worker) syncCycle(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if w.cycleStarted.CompareAndSwap(false, true) {
		if _, err := w.deps.Ledger.StartCycle(ctx, ledger.CycleInfo{
			MarketID:   w.market.Slug,
			Coin:       w.market.Instrument,
			YesTokenID: w.market.YesTokenID,
			NoTokenID:  w.market.NoTokenID,
			EndTime:    w.market.EndTime,
		}); err != nil {
			w.cycleStarted.Store(false)
			metrics.LedgerErrors.Add(1)
			log.WithField("market", w.market.Slug).Errorf("账本开启周期失败: %v", err)
			return
		}
	}
	ys, yc := w.pos.Side(domain.LegYes).Totals()
	ns, nc := w.pos.Side(domain.LegNo).Totals()
	if err := w.deps.Ledger.UpdateCycleCost(ctx, w.market.Slug, ledger.CycleCosts{
		YesCost: yc, NoCost: nc, YesShares: ys, NoShares: ns,
	}); err != nil {
		metrics.LedgerErrors.Add(1)
		log.WithField("market", w.market.Slug).Errorf("账本更新成本失败: %v", err)
	}
}

func (w *Worker) closeCycle(ctx context.Context, reason ledger.CycleStatus, pnl decimal.Decimal) {
	if !w.cycleStarted.Load() {
		// 第一次成交时账本写失败，补开一次
		w.syncCycle(ctx)
	}
	closed, err := w.deps.Ledger.CloseCycle(context.WithoutCancel(ctx), w.market.Slug, reason, pnl)
	if err != nil {
		metrics.LedgerErrors.Add(1)
		log.WithField("market", w.market.Slug).Errorf("账本关闭周期失败: %v", err)
		return
	}
	if !closed {
		log.WithField("market", w.market.Slug).Debug("周期已关闭，忽略重复关闭")
	}
}

// Remaining 距结算剩余时间
func (w *Worker) Remaining() time.Duration {
	return w.market.Remaining(w.now())
}
