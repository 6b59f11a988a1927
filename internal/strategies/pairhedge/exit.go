package pairhedge

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/pairbot/internal/domain"
	"github.com/betbot/pairbot/internal/ledger"
	"github.com/betbot/pairbot/internal/metrics"
)

// ExitRule 退出瀑布的规则，按优先级排列
type ExitRule int

const (
	RuleNone ExitRule = iota
	RulePartialUnwind
	RuleLateDominance
	RuleSumTarget
	RuleEarlyProfit
)

func (r ExitRule) String() string {
	switch r {
	case RulePartialUnwind:
		return "partial_unwind"
	case RuleLateDominance:
		return "late_dominance"
	case RuleSumTarget:
		return "sum_target"
	case RuleEarlyProfit:
		return "early_profit"
	default:
		return "none"
	}
}

// 残余份额低于该值视为已卖完
const dustShares = 0.01

type sellLeg struct {
	leg    domain.Leg
	size   float64
	bid    float64
	target float64 // 深度检查目标价，也是 FAK 卖单限价
	depth  float64
}

type exitPlan struct {
	rule    ExitRule
	legs    []sellLeg // 按卖出顺序
	profit  float64   // 按 best bid 估算
	blocked string    // 条件满足但本次不执行（深度不足等）
	fields  logrus.Fields
}

type exitInputs struct {
	remaining time.Duration
	yes, no   SideSnapshot
	yesHeld   float64
	noHeld    float64
	totalCost float64
	proceeds  float64
}

func (in exitInputs) held(leg domain.Leg) float64 {
	if leg == domain.LegYes {
		return in.yesHeld
	}
	return in.noHeld
}

// bookSource 懒加载两腿盘口（只有需要时才请求交易所）
type bookSource func() (yes, no *domain.OrderBook, err error)

// planExit 按优先级决定本次执行哪条规则；第一条满足条件的规则胜出
func planExit(cfg *Config, in exitInputs, books bookSource) (exitPlan, error) {
	var (
		yesBook, noBook *domain.OrderBook
		loaded          bool
	)
	load := func() error {
		if loaded {
			return nil
		}
		var err error
		yesBook, noBook, err = books()
		if err != nil {
			return err
		}
		yesBook.Normalize()
		noBook.Normalize()
		loaded = true
		return nil
	}
	bookOf := func(leg domain.Leg) *domain.OrderBook {
		if leg == domain.LegYes {
			return yesBook
		}
		return noBook
	}
	bidOf := func(leg domain.Leg) float64 {
		lv, _ := bookOf(leg).BestBid()
		return lv.Price
	}
	// 深度检查：目标价以上的累计买盘要能吃下整条腿
	legFor := func(leg domain.Leg) (sellLeg, bool) {
		bid := bidOf(leg)
		target := domain.FloorToTick(bid*(1-cfg.DepthSlippage), cfg.TickSize)
		sl := sellLeg{leg: leg, size: floorShares(in.held(leg)), bid: bid, target: target}
		sl.depth = bookOf(leg).BidDepthAtOrAbove(target)
		return sl, bid > 0 && target > 0 && sl.depth >= sl.size
	}
	markValue := func() float64 {
		return in.yesHeld*bidOf(domain.LegYes) + in.noHeld*bidOf(domain.LegNo)
	}

	// 1. 部分回平：只卖占优的一腿，输腿按零成本保留
	if in.remaining <= cfg.PartialUnwindWindow.Duration {
		if err := load(); err != nil {
			return exitPlan{}, err
		}
		winner := domain.LegYes
		if bidOf(domain.LegNo) > bidOf(domain.LegYes) {
			winner = domain.LegNo
		}
		bid := bidOf(winner)
		if bid > cfg.DominanceThreshold && in.held(winner) > dustShares {
			profit := in.held(winner)*bid + in.proceeds - in.totalCost
			if profit >= cfg.PartialUnwindMinProfit {
				sl, ok := legFor(winner)
				plan := exitPlan{rule: RulePartialUnwind, legs: []sellLeg{sl}, profit: profit, fields: logrus.Fields{
					"winner": winner, "bid": bid, "dominance": cfg.DominanceThreshold, "profit": profit, "depth": sl.depth,
				}}
				if !ok {
					plan.blocked = "depth"
				}
				return plan, nil
			}
		}
	}

	// 2. 临近结算：两腿按 bid 估值超过成本即全部卖出，赢腿先卖
	if in.remaining <= cfg.LateExitWindow.Duration {
		if err := load(); err != nil {
			return exitPlan{}, err
		}
		profit := markValue() + in.proceeds - in.totalCost
		if profit >= cfg.LateExitMinProfit {
			first, second := domain.LegYes, domain.LegNo
			if bidOf(domain.LegNo) > bidOf(domain.LegYes) {
				first, second = second, first
			}
			plan := exitPlan{rule: RuleLateDominance, profit: profit, fields: logrus.Fields{
				"yesBid": bidOf(domain.LegYes), "noBid": bidOf(domain.LegNo), "cost": in.totalCost, "profit": profit, "minProfit": cfg.LateExitMinProfit,
			}}
			for _, leg := range []domain.Leg{first, second} {
				if in.held(leg) <= dustShares {
					continue
				}
				sl, ok := legFor(leg)
				if !ok {
					plan.blocked = "depth"
				}
				plan.legs = append(plan.legs, sl)
			}
			return plan, nil
		}
	}

	// 3. 均价之和达标：结算必盈利，直接锁定
	if in.yes.Shares > 0 && in.no.Shares > 0 {
		sum := in.yes.AvgPrice + in.no.AvgPrice
		if sum <= cfg.SumTarget {
			return exitPlan{rule: RuleSumTarget, fields: logrus.Fields{
				"avgYes": in.yes.AvgPrice, "avgNo": in.no.AvgPrice, "sum": sum, "sumTarget": cfg.SumTarget,
			}}, nil
		}
	}

	// 4. 提前止盈：百分比和绝对值都达标，且两腿深度足够；深度薄的先卖
	if in.totalCost > 0 {
		if err := load(); err != nil {
			return exitPlan{}, err
		}
		profit := markValue() + in.proceeds - in.totalCost
		pct := profit / in.totalCost
		if pct >= cfg.EarlyProfitPct && profit >= cfg.EarlyProfitMinUSD {
			plan := exitPlan{rule: RuleEarlyProfit, profit: profit, fields: logrus.Fields{
				"yesBid": bidOf(domain.LegYes), "noBid": bidOf(domain.LegNo), "cost": in.totalCost,
				"profit": profit, "pct": pct, "minPct": cfg.EarlyProfitPct, "minUsd": cfg.EarlyProfitMinUSD,
			}}
			for _, leg := range domain.Legs {
				if in.held(leg) <= dustShares {
					continue
				}
				sl, ok := legFor(leg)
				if !ok {
					plan.blocked = "depth"
				}
				plan.legs = append(plan.legs, sl)
			}
			if len(plan.legs) == 2 && plan.legs[1].depth < plan.legs[0].depth {
				plan.legs[0], plan.legs[1] = plan.legs[1], plan.legs[0]
			}
			return plan, nil
		}
	}
	return exitPlan{rule: RuleNone}, nil
}

// evaluateExits 跑一次退出瀑布；同一市场同一时刻只有一次评估
func (w *Worker) evaluateExits(ctx context.Context, now time.Time) ExitRule {
	if !w.exitRunning.CompareAndSwap(false, true) {
		return RuleNone
	}
	defer w.exitRunning.Store(false)

	st := w.pos.Status()
	if !st.exitable() || !w.pos.HasPosition() {
		return RuleNone
	}
	remaining := w.market.Remaining(now)
	// 已对冲的仓位临近结算直接持有
	if st == StatusArbLocked && remaining <= w.cfg.ArbLockedHold.Duration {
		return RuleNone
	}

	y, n := w.pos.Side(domain.LegYes).Snapshot(), w.pos.Side(domain.LegNo).Snapshot()
	in := exitInputs{
		remaining: remaining,
		yes:       y,
		no:        n,
		yesHeld:   w.pos.Held(domain.LegYes),
		noHeld:    w.pos.Held(domain.LegNo),
		totalCost: y.Cost + n.Cost,
		proceeds:  w.pos.Proceeds().InexactFloat64(),
	}
	plan, err := planExit(&w.cfg, in, func() (*domain.OrderBook, *domain.OrderBook, error) {
		yb, err := w.deps.Gateway.GetOrderBook(ctx, w.market.YesTokenID)
		if err != nil {
			return nil, nil, err
		}
		nb, err := w.deps.Gateway.GetOrderBook(ctx, w.market.NoTokenID)
		if err != nil {
			return nil, nil, err
		}
		return yb, nb, nil
	})
	if err != nil {
		w.observeGateway(err)
		log.WithField("market", w.market.Slug).Warnf("获取盘口失败，跳过本次退出评估: %v", err)
		return RuleNone
	}
	if plan.rule == RuleNone {
		return RuleNone
	}
	fields := logrus.Fields{"market": w.market.Slug, "rule": plan.rule.String(), "remaining": remaining.Round(time.Second).String()}
	for k, v := range plan.fields {
		fields[k] = v
	}
	if plan.blocked != "" {
		log.WithFields(fields).Debugf("退出条件满足但未执行: %s", plan.blocked)
		return RuleNone
	}
	log.WithFields(fields).Info("退出规则触发")
	if w.executeExit(ctx, plan) {
		metrics.ExitsTotal.WithLabelValues(plan.rule.String()).Inc()
		return plan.rule
	}
	return RuleNone
}

func (w *Worker) executeExit(ctx context.Context, plan exitPlan) bool {
	switch plan.rule {
	case RuleSumTarget:
		reason := "sum target 锁定"
		// 两腿份额不等时多出的部分未对冲，记入状态切换原因
		if leg, extra := w.unhedged(); extra > dustShares {
			reason = fmt.Sprintf("sum target 锁定，%s 腿未对冲 %.2f 份", leg, extra)
			log.WithFields(logrus.Fields{
				"market":  w.market.Slug,
				"leg":     leg,
				"extra":   extra,
				"yesHeld": w.pos.Held(domain.LegYes),
				"noHeld":  w.pos.Held(domain.LegNo),
			}).Warn("锁定时两腿份额不平衡")
		}
		if !w.pos.LockComplete(reason) {
			return false
		}
		// 收益在链上结算后才实现，这里记 0
		w.closeCycle(ctx, ledger.CycleArbLocked, decimal.Zero)
		return true

	case RulePartialUnwind:
		prev, ok := w.pos.BeginExit(StatusPartialUnwind, "部分回平")
		if !ok {
			return false
		}
		sl := plan.legs[0]
		filled, err := w.sell(ctx, sl.leg, sl.size, sl.target, "exit_partial_unwind")
		if err != nil {
			w.pos.AbortExit(prev, "部分回平卖出失败")
			log.WithFields(logrus.Fields{"market": w.market.Slug, "leg": sl.leg}).Warnf("部分回平失败: %v", err)
			return false
		}
		log.WithFields(logrus.Fields{
			"market": w.market.Slug, "leg": sl.leg, "filled": filled, "target": sl.target, "proceeds": w.pos.Proceeds().StringFixed(4),
		}).Info("部分回平完成，输腿保留到结算")
		return true

	case RuleLateDominance, RuleEarlyProfit:
		if len(plan.legs) == 0 {
			return false
		}
		prev, ok := w.pos.BeginExit(StatusExiting, plan.rule.String())
		if !ok {
			return false
		}
		purpose := "exit_" + plan.rule.String()
		first := plan.legs[0]
		if _, err := w.sell(ctx, first.leg, first.size, first.target, purpose); err != nil {
			w.pos.AbortExit(prev, "首腿卖出失败，放弃退出")
			log.WithFields(logrus.Fields{"market": w.market.Slug, "leg": first.leg}).Warnf("首腿卖出失败: %v", err)
			return false
		}
		for _, sl := range plan.legs[1:] {
			if _, err := w.sell(ctx, sl.leg, sl.size, sl.target, purpose); err != nil {
				log.WithFields(logrus.Fields{"market": w.market.Slug, "leg": sl.leg}).Warnf("第二腿卖出失败: %v", err)
			}
		}
		// 卖不干净的残余：折价紧急卖出，不带着裸露仓位进结算
		for _, sl := range plan.legs {
			w.emergencySell(ctx, sl)
		}

		reason := ledger.CycleEarlyExit
		if plan.rule == RuleLateDominance {
			reason = ledger.CycleLateExit
		}
		// 按实际成交计算；仍卖不掉的残余按 0 计（悲观）
		pnl := w.pos.Proceeds().Sub(w.pos.TotalCost())
		w.pos.Transition(StatusComplete, plan.rule.String()+" 退出完成")
		w.closeCycle(ctx, reason, pnl)
		return true
	}
	return false
}

// unhedged 份额较多的一腿及多出的份额
func (w *Worker) unhedged() (domain.Leg, float64) {
	y, n := w.pos.Held(domain.LegYes), w.pos.Held(domain.LegNo)
	if y >= n {
		return domain.LegYes, y - n
	}
	return domain.LegNo, n - y
}

// emergencySell 以 bid×(1-haircut) 卖出该腿剩余份额
func (w *Worker) emergencySell(ctx context.Context, sl sellLeg) {
	left := floorShares(w.pos.Held(sl.leg))
	if left <= dustShares {
		return
	}
	price := domain.FloorToTick(sl.bid*(1-w.cfg.EmergencyHaircut), w.cfg.TickSize)
	if price < w.cfg.TickSize {
		price = w.cfg.TickSize
	}
	filled, err := w.sell(ctx, sl.leg, left, price, "emergency")
	fields := logrus.Fields{
		"market": w.market.Slug, "leg": sl.leg, "left": left, "bid": sl.bid, "price": price, "haircut": w.cfg.EmergencyHaircut,
	}
	if err != nil {
		log.WithFields(fields).Errorf("紧急折价卖出失败，残余按 0 计: %v", err)
		return
	}
	fields["filled"] = filled
	log.WithFields(fields).Warn("紧急折价卖出")
}
