package rotation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/pairbot/internal/domain"
	"github.com/betbot/pairbot/internal/journal"
	"github.com/betbot/pairbot/internal/ledger"
	"github.com/betbot/pairbot/internal/metrics"
	"github.com/betbot/pairbot/internal/ports"
	"github.com/betbot/pairbot/internal/risk"
	"github.com/betbot/pairbot/internal/strategies/pairhedge"
	"github.com/betbot/pairbot/pkg/config"
	"github.com/betbot/pairbot/pkg/logger"
	"github.com/betbot/pairbot/pkg/marketspec"
	"github.com/betbot/pairbot/pkg/sigchan"
)

var log = logrus.WithField("component", "rotation")

// Deps 轮动控制器的外部依赖
type Deps struct {
	Config    *config.Config
	Gateway   ports.ExchangeGateway
	Discovery ports.MarketDiscovery
	Feed      ports.PriceFeed
	Ledger    *ledger.Ledger
	Guard     *risk.CapitalGuard
	Breaker   *risk.CircuitBreaker
	Journal   *journal.Journal

	Now func() time.Time
	// Fatal 回撤超限时调用，默认 logrus.Fatalf（退出进程）
	Fatal func(format string, args ...interface{})
	// SetMarketSlug 切换按市场命名的日志文件，默认 logger.SetMarketSlug
	SetMarketSlug func(slug string) error
}

// slot 一个 (标的, 周期) 槽位，同一时间最多一个 worker
type slot struct {
	spec     marketspec.MarketSpec
	profile  config.InstrumentProfile
	worker   *pairhedge.Worker
	cancel   context.CancelFunc
	lastSlug string
}

// Controller 市场轮动：选市场、恢复孤儿周期、定时检查回撤与到期、把行情路由给 worker
type Controller struct {
	deps  Deps
	slots []*slot

	mu     sync.RWMutex
	routes map[string]*pairhedge.Worker

	// worker 结束后立即触发一次轮动，不用等下一个定时器
	wake *sigchan.Chan
	wg   sync.WaitGroup
}

func New(deps Deps) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Fatal == nil {
		deps.Fatal = logrus.Fatalf
	}
	if deps.SetMarketSlug == nil {
		deps.SetMarketSlug = logger.SetMarketSlug
	}
	c := &Controller{deps: deps, routes: make(map[string]*pairhedge.Worker), wake: sigchan.New(1)}
	for _, m := range deps.Config.Markets {
		c.slots = append(c.slots, &slot{
			spec:    marketspec.MarketSpec{Instrument: m.Instrument, Timeframe: m.Timeframe},
			profile: deps.Config.Profile(m.Instrument),
		})
	}
	return c
}

// Workers 当前活跃的 worker（控制面使用）
func (c *Controller) Workers() []*pairhedge.Worker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[*pairhedge.Worker]bool, len(c.routes))
	out := make([]*pairhedge.Worker, 0, len(c.slots))
	for _, s := range c.slots {
		if s.worker != nil && !seen[s.worker] {
			seen[s.worker] = true
			out = append(out, s.worker)
		}
	}
	return out
}

// Run 阻塞直到 ctx 取消；返回前等待所有 worker 退出
func (c *Controller) Run(ctx context.Context) error {
	c.resumeOrphans(ctx)
	c.onTimer(ctx)

	ticker := time.NewTicker(c.deps.Config.Timer())
	defer ticker.Stop()
	ticks := c.deps.Feed.Ticks()

	for {
		select {
		case <-ctx.Done():
			c.stopAll()
			c.wg.Wait()
			return ctx.Err()
		case t, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			c.route(t)
		case <-ticker.C:
			c.onTimer(ctx)
		case <-c.wake.C():
			c.onTimer(ctx)
		}
	}
}

func (c *Controller) route(t domain.PriceTick) {
	c.mu.RLock()
	w := c.routes[t.TokenID]
	c.mu.RUnlock()
	if w != nil {
		w.OnTick(t)
	}
}

func (c *Controller) stopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.slots {
		if s.cancel != nil {
			s.cancel()
		}
	}
}

// slotFor 按 slug 前缀找槽位（{instrument}-updown-{tf}-）
func (c *Controller) slotFor(slug string) *slot {
	for _, s := range c.slots {
		prefix := fmt.Sprintf("%s-updown-%s-", s.spec.Instrument, s.spec.Timeframe)
		if strings.HasPrefix(slug, prefix) {
			return s
		}
	}
	return nil
}

// resumeOrphans 冷启动时接管账本里的 open 周期；已到期或无法解析的直接关闭
func (c *Controller) resumeOrphans(ctx context.Context) {
	seenCoin := make(map[marketspec.Instrument]bool)
	now := c.deps.Now()
	for _, s := range c.slots {
		if seenCoin[s.spec.Instrument] {
			continue
		}
		seenCoin[s.spec.Instrument] = true

		cycles, err := c.deps.Ledger.OpenCycles(ctx, s.spec.Instrument.String())
		if err != nil {
			log.WithError(err).Error("读取 open 周期失败")
			metrics.LedgerErrors.Add(1)
			continue
		}
		for _, cy := range cycles {
			fields := logrus.Fields{"market": cy.MarketID, "coin": cy.Coin, "cost": cy.TotalCost().StringFixed(4)}
			if !cy.EndTime.IsZero() && !now.Before(cy.EndTime) {
				log.WithFields(fields).Warn("孤儿周期已到期")
				c.closeOrphan(ctx, cy)
				continue
			}
			m, err := c.deps.Discovery.MarketBySlug(ctx, cy.MarketID)
			if err != nil || !m.IsValid() || !now.Before(m.EndTime) {
				log.WithFields(fields).WithError(err).Warn("孤儿周期无法恢复")
				c.closeOrphan(ctx, cy)
				continue
			}
			target := c.slotFor(cy.MarketID)
			if target == nil || target.worker != nil {
				log.WithFields(fields).Warn("孤儿周期没有空闲槽位，保持 open")
				continue
			}
			balance, err := c.deps.Gateway.GetBalance(ctx)
			if err != nil {
				log.WithError(err).Warn("获取余额失败，孤儿周期下次启动再恢复")
				continue
			}
			if c.startWorker(ctx, target, m, balance, cy) {
				metrics.OrphanResumes.Add(1)
				log.WithFields(fields).Info("恢复孤儿周期")
			}
		}
	}
}

// closeOrphan 两腿都有持仓按保底收益记 EXPIRED，否则按全部成本记 ABANDON
func (c *Controller) closeOrphan(ctx context.Context, cy *ledger.Cycle) {
	reason, pnl := ledger.CycleAbandon, cy.TotalCost().Neg()
	if cy.YesShares.IsPositive() && cy.NoShares.IsPositive() {
		reason, pnl = ledger.CycleExpired, cy.FloorPnL()
	}
	if _, err := c.deps.Ledger.CloseCycle(ctx, cy.MarketID, reason, pnl); err != nil {
		log.WithError(err).WithField("market", cy.MarketID).Error("关闭孤儿周期失败")
		metrics.LedgerErrors.Add(1)
	}
}

// onTimer 余额 → 回撤检查 → 指标 → 轮动
func (c *Controller) onTimer(ctx context.Context) {
	// 读余额前打点，轮动时据此判断能否清掉残留预留
	cp := c.deps.Guard.Checkpoint()
	balance, err := c.deps.Gateway.GetBalance(ctx)
	fresh := err == nil
	if err != nil {
		log.WithError(err).Warn("获取余额失败")
	} else {
		metrics.WalletBalance.Set(balance)
		if err := c.deps.Ledger.UpdateWalletBalance(ctx, balance); err != nil {
			log.WithError(err).Error("写入余额失败")
			metrics.LedgerErrors.Add(1)
		}
	}

	tripped, dd, err := c.deps.Ledger.CheckDrawdown(ctx, c.deps.Config.DrawdownLimit)
	if err != nil {
		log.WithError(err).Error("回撤检查失败")
		metrics.LedgerErrors.Add(1)
	} else {
		metrics.Drawdown.Set(dd)
		if tripped {
			log.WithFields(logrus.Fields{
				"drawdown": fmt.Sprintf("%.2f%%", dd*100),
				"limit":    fmt.Sprintf("%.2f%%", c.deps.Config.DrawdownLimit*100),
				"balance":  balance,
			}).Error("会话回撤超限")
			c.deps.Fatal("会话回撤 %.2f%% 超过上限 %.2f%%，退出", dd*100, c.deps.Config.DrawdownLimit*100)
			return
		}
	}

	c.refreshMetrics(ctx)

	for _, s := range c.slots {
		if s.worker != nil {
			select {
			case <-s.worker.Done():
				c.retire(s)
			default:
				continue
			}
		}
		if !fresh {
			continue
		}
		c.rotate(ctx, s, balance, cp)
	}
}

func (c *Controller) refreshMetrics(ctx context.Context) {
	st, err := c.deps.Ledger.GetAllStats(ctx)
	if err == nil {
		for coin, cs := range st.Coins {
			metrics.RealizedPnL.WithLabelValues(coin).Set(cs.RealizedPnL.InexactFloat64())
			metrics.Exposure.WithLabelValues(coin).Set(cs.CurrentExposure.InexactFloat64())
		}
	}
	metrics.CapitalReserved.Set(c.deps.Guard.Reserved())
	metrics.ActiveWorkers.Set(float64(len(c.Workers())))
}

// retire 解除已结束 worker 的路由和订阅
func (c *Controller) retire(s *slot) {
	w := s.worker
	m := w.Market()
	c.mu.Lock()
	delete(c.routes, m.YesTokenID)
	delete(c.routes, m.NoTokenID)
	if s.cancel != nil {
		s.cancel()
	}
	s.worker, s.cancel = nil, nil
	c.mu.Unlock()
	if err := c.deps.Feed.Unsubscribe(m.YesTokenID, m.NoTokenID); err != nil {
		log.WithError(err).Warn("取消订阅失败")
	}
	log.WithFields(logrus.Fields{"market": m.Slug, "status": w.Position().Status()}).Info("市场结束")
}

func (c *Controller) rotate(ctx context.Context, s *slot, balance float64, cp risk.Checkpoint) {
	m, err := c.deps.Discovery.FindActiveMarket(ctx, s.spec.Instrument, s.spec.Timeframe)
	if err != nil {
		if errors.Is(err, ports.ErrNoActiveMarket) {
			log.WithField("slot", s.spec.String()).Debug("暂无可交易市场")
		} else {
			log.WithError(err).WithField("slot", s.spec.String()).Warn("市场发现失败")
		}
		return
	}
	// 同一个市场只做一次
	if m.Slug == s.lastSlug {
		return
	}
	// 真正切换市场时才清残留预留；打点后有任何下单都会拒绝清零
	if c.deps.Guard.ResetIfQuiet(cp) {
		metrics.CapitalReserved.Set(0)
	}
	if c.startWorker(ctx, s, m, balance, nil) {
		metrics.Rotations.Add(1)
	}
}

func (c *Controller) strategyConfig(p config.InstrumentProfile) (pairhedge.Config, error) {
	var cfg pairhedge.Config
	if err := c.deps.Config.DecodeStrategy(&cfg); err != nil {
		return cfg, err
	}
	cfg.ApplyProfile(p)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("pairhedge 配置无效: %w", err)
	}
	return cfg, nil
}

func (c *Controller) startWorker(ctx context.Context, s *slot, m *domain.Market, balance float64, seed *ledger.Cycle) bool {
	cfg, err := c.strategyConfig(s.profile)
	if err != nil {
		log.WithError(err).Error("无法启动 worker")
		return false
	}
	maxCap := decimal.NewFromFloat(balance).Mul(decimal.NewFromFloat(cfg.MarketRiskFraction)).InexactFloat64()
	w := pairhedge.NewWorker(cfg, m, maxCap, pairhedge.Deps{
		Gateway: c.deps.Gateway,
		Ledger:  c.deps.Ledger,
		Guard:   c.deps.Guard,
		Breaker: c.deps.Breaker,
		Journal: c.deps.Journal,
		Now:     c.deps.Now,
	})
	if seed != nil {
		w.Seed(seed)
	}

	wctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.routes[m.YesTokenID] = w
	c.routes[m.NoTokenID] = w
	s.worker, s.cancel, s.lastSlug = w, cancel, m.Slug
	c.mu.Unlock()

	if err := c.deps.Feed.Subscribe(ctx, m.YesTokenID, m.NoTokenID); err != nil {
		log.WithError(err).Warn("订阅行情失败，等待重连后补订阅")
	}
	if err := c.deps.SetMarketSlug(m.Slug); err != nil {
		log.WithError(err).Warn("切换日志文件失败")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		w.Run(wctx)
		c.wake.Emit()
	}()

	log.WithFields(logrus.Fields{
		"slot":             s.spec.String(),
		"market":           m.Slug,
		"endTime":          m.EndTime.Format(time.RFC3339),
		"balance":          balance,
		"maxMarketCapital": maxCap,
	}).Info("切换到新市场")
	return true
}
