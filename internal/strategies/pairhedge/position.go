package pairhedge

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/pairbot/internal/domain"
)

const pairCostEpsilon = 1e-9

// TransitionFunc 状态变化回调（写 journal）
type TransitionFunc func(from, to Status, reason string)

// MarketPosition 一个市场的两腿仓位 + 状态机。
// 状态与两腿的“买入锁”在同一把锁下判断，保证入场、退出、对冲互斥。
type MarketPosition struct {
	market *domain.Market
	yes    SideAccumulator
	no     SideAccumulator

	maxMarketCapital float64

	mu            sync.Mutex
	status        Status
	bestPairCost  float64
	lastImproveTs time.Time
	// 卖出回款与已卖份额（部分回平/退出）
	proceeds decimal.Decimal
	sold     map[domain.Leg]decimal.Decimal

	onTransition TransitionFunc
}

func NewMarketPosition(market *domain.Market, maxMarketCapital float64) *MarketPosition {
	return &MarketPosition{
		market:           market,
		maxMarketCapital: maxMarketCapital,
		status:           StatusScanning,
		sold:             make(map[domain.Leg]decimal.Decimal, 2),
	}
}

func (p *MarketPosition) Market() *domain.Market { return p.market }

func (p *MarketPosition) MaxMarketCapital() float64 { return p.maxMarketCapital }

// Side 获取某一腿的累加器
func (p *MarketPosition) Side(leg domain.Leg) *SideAccumulator {
	if leg == domain.LegYes {
		return &p.yes
	}
	return &p.no
}

func (p *MarketPosition) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Transition 按合法边切换状态；非法边（包括离开 Complete）静默忽略并返回 false
func (p *MarketPosition) Transition(to Status, reason string) bool {
	p.mu.Lock()
	from := p.status
	ok := CanTransition(from, to)
	if ok {
		p.status = to
	}
	p.mu.Unlock()
	if ok {
		p.notify(from, to, reason)
	}
	return ok
}

func (p *MarketPosition) notify(from, to Status, reason string) {
	log.WithFields(logrus.Fields{
		"market": p.market.Slug,
		"from":   from.String(),
		"to":     to.String(),
		"reason": reason,
	}).Info("状态切换")
	if p.onTransition != nil {
		p.onTransition(from, to, reason)
	}
}

// BeginBuy 入场：status==Scanning 且拿到该腿买入锁
func (p *MarketPosition) BeginBuy(leg domain.Leg) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusScanning {
		return false
	}
	return p.Side(leg).TryLock()
}

// BeginHedge 强制对冲：与入场同样的前置条件，但由定时器驱动
func (p *MarketPosition) BeginHedge(leg domain.Leg) bool {
	return p.BeginBuy(leg)
}

// BeginExit 退出：在可退出状态且没有在途买单时，同步切到 Exiting/PartialUnwind。
// 返回进入前的状态，失败回滚时用。
func (p *MarketPosition) BeginExit(to Status, reason string) (Status, bool) {
	p.mu.Lock()
	from := p.status
	if !from.exitable() || p.yes.IsBuying() || p.no.IsBuying() || !CanTransition(from, to) {
		p.mu.Unlock()
		return from, false
	}
	p.status = to
	p.mu.Unlock()
	p.notify(from, to, reason)
	return from, true
}

// AbortExit 退出失败：回到进入前的状态
func (p *MarketPosition) AbortExit(prev Status, reason string) bool {
	return p.Transition(prev, reason)
}

// LockComplete 从可退出状态直接锁定为 Complete（sum target）
func (p *MarketPosition) LockComplete(reason string) bool {
	p.mu.Lock()
	from := p.status
	if !from.exitable() || p.yes.IsBuying() || p.no.IsBuying() {
		p.mu.Unlock()
		return false
	}
	p.status = StatusComplete
	p.mu.Unlock()
	p.notify(from, StatusComplete, reason)
	return true
}

// RecordFill 记录买入成交；Complete 之后不再修改两腿
func (p *MarketPosition) RecordFill(leg domain.Leg, shares, price float64, ts time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusComplete {
		return false
	}
	p.Side(leg).AddFill(shares, price, ts)
	p.trackPairCostLocked(ts)
	return true
}

// RecordHedgeFill 强制对冲成交：记录成交并在同一把锁内切到 ArbLocked，
// 避免成交与状态切换之间插入新的主动买入
func (p *MarketPosition) RecordHedgeFill(leg domain.Leg, shares, price float64, ts time.Time) bool {
	p.mu.Lock()
	from := p.status
	if from == StatusComplete {
		p.mu.Unlock()
		return false
	}
	p.Side(leg).AddFill(shares, price, ts)
	p.trackPairCostLocked(ts)
	locked := CanTransition(from, StatusArbLocked)
	if locked {
		p.status = StatusArbLocked
	}
	p.mu.Unlock()
	if locked {
		p.notify(from, StatusArbLocked, "强制对冲完成")
	}
	return true
}

// trackPairCostLocked 停滞检测：两腿都有成交（pair cost 存在）才开始计时，之后 pair cost 改善才刷新。
// 单腿阶段由 leg2 timeout 管，不算停滞。
func (p *MarketPosition) trackPairCostLocked(ts time.Time) {
	y, n := p.yes.Snapshot(), p.no.Snapshot()
	if y.Shares <= 0 || n.Shares <= 0 {
		return
	}
	pc := y.AvgPrice + n.AvgPrice
	if p.bestPairCost == 0 || pc < p.bestPairCost-pairCostEpsilon {
		p.bestPairCost = pc
		p.lastImproveTs = ts
	}
}

// RecordSale 记录卖出成交（不改变买入累加器）
func (p *MarketPosition) RecordSale(leg domain.Leg, shares, price float64) {
	if shares <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	qty := decimal.NewFromFloat(shares)
	p.sold[leg] = p.sold[leg].Add(qty)
	p.proceeds = p.proceeds.Add(qty.Mul(decimal.NewFromFloat(price)))
}

// Seed 重启恢复
func (p *MarketPosition) Seed(yesShares, yesCost, noShares, noCost decimal.Decimal, ts time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.yes.Seed(yesShares, yesCost, ts)
	p.no.Seed(noShares, noCost, ts)
	p.trackPairCostLocked(ts)
}

// Held 某一腿当前还持有的份额（买入 − 卖出）
func (p *MarketPosition) Held(leg domain.Leg) float64 {
	shares, _ := p.Side(leg).Totals()
	p.mu.Lock()
	sold := p.sold[leg]
	p.mu.Unlock()
	v := shares.Sub(sold)
	if v.IsNegative() {
		return 0
	}
	return v.InexactFloat64()
}

// Proceeds 卖出回款合计
func (p *MarketPosition) Proceeds() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.proceeds
}

// TotalCost 两腿合计成本
func (p *MarketPosition) TotalCost() decimal.Decimal {
	_, yc := p.yes.Totals()
	_, nc := p.no.Totals()
	return yc.Add(nc)
}

// HasPosition 任一腿有成交
func (p *MarketPosition) HasPosition() bool {
	ys, _ := p.yes.Totals()
	ns, _ := p.no.Totals()
	return ys.IsPositive() || ns.IsPositive()
}

// Stagnant pair cost 已存在且超过 timeout 未改善
func (p *MarketPosition) Stagnant(now time.Time, timeout time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.lastImproveTs.IsZero() && now.Sub(p.lastImproveTs) > timeout
}

// PositionSnapshot 对外展示
type PositionSnapshot struct {
	Market           string       `json:"market"`
	Coin             string       `json:"coin"`
	Status           Status       `json:"status"`
	EndTime          time.Time    `json:"endTime"`
	Yes              SideSnapshot `json:"yes"`
	No               SideSnapshot `json:"no"`
	PairCost         float64      `json:"pairCost"`
	BestPairCost     float64      `json:"bestPairCost"`
	MaxMarketCapital float64      `json:"maxMarketCapital"`
	Proceeds         float64      `json:"proceeds"`
}

func (p *MarketPosition) Snapshot() PositionSnapshot {
	y, n := p.yes.Snapshot(), p.no.Snapshot()
	p.mu.Lock()
	defer p.mu.Unlock()
	s := PositionSnapshot{
		Market:           p.market.Slug,
		Coin:             p.market.Instrument,
		Status:           p.status,
		EndTime:          p.market.EndTime,
		Yes:              y,
		No:               n,
		BestPairCost:     p.bestPairCost,
		MaxMarketCapital: p.maxMarketCapital,
		Proceeds:         p.proceeds.InexactFloat64(),
	}
	if y.Shares > 0 && n.Shares > 0 {
		s.PairCost = y.AvgPrice + n.AvgPrice
	}
	return s
}
