package pairhedge

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/pairbot/internal/domain"
)

// tryEnter 在一条腿上处理 dip 信号。返回是否买入以及跳过原因。
// 所有 guard 都通过后才会拿买入锁、预留资金并下单。
func (w *Worker) tryEnter(ctx context.Context, leg domain.Leg, price float64, now time.Time) (bool, string) {
	cfg := &w.cfg
	side := w.pos.Side(leg)
	other := w.pos.Side(leg.Opposite())

	// 1. 只有 Scanning 才允许主动开仓（ArbLocked 之后不再加仓）
	if st := w.pos.Status(); st != StatusScanning {
		return false, "status=" + st.String()
	}
	if w.market.Remaining(now) <= cfg.EntryCutoff.Duration {
		return false, "entry cutoff"
	}
	// 2. 同一腿同一时刻只有一笔在途买单
	if side.IsBuying() {
		return false, "side buying"
	}
	s, o := side.Snapshot(), other.Snapshot()
	// 3. debounce
	if !s.LastBuyTs.IsZero() && now.Sub(s.LastBuyTs) < cfg.Debounce.Duration {
		return false, "debounce"
	}
	// 4. pair cost 停滞（只在两腿都有成交后生效）
	if w.pos.Stagnant(now, cfg.StagnationTimeout.Duration) {
		return false, "stagnation"
	}
	// 5. 裸露腿超时后只能由强制对冲解决
	if s.Shares > 0 && o.Shares <= 0 && now.Sub(s.FirstBuyTs) > cfg.Leg2Timeout.Duration {
		return false, "leg2 timeout"
	}
	// 6. 单市场资金上限
	totalCost := s.Cost + o.Cost
	if totalCost >= w.pos.MaxMarketCapital() {
		return false, "market capital cap"
	}
	// 7. 两腿失衡
	if s.Shares-o.Shares >= cfg.imbalanceLimit() {
		return false, "imbalance"
	}
	// 8. 价格没怎么动就不重复买
	if s.LastFillPrice > 0 && math.Abs(price-s.LastFillPrice) < cfg.MinPriceMove {
		return false, "min price move"
	}
	if err := w.deps.Breaker.AllowTrading(); err != nil {
		return false, "circuit breaker open"
	}

	limit := domain.CeilToTick(price+cfg.EntrySlippage, cfg.TickSize)
	if limit <= 0 || limit >= 1 {
		return false, "limit out of range"
	}
	balance, err := w.deps.Gateway.GetBalance(ctx)
	if err != nil {
		w.observeGateway(err)
		return false, fmt.Sprintf("balance: %v", err)
	}
	size := w.sizeClip(balance, limit, totalCost, s.Shares-o.Shares)
	if size < cfg.MinOrderSize {
		// 不为了满足最小下单量而突破风险上限
		log.WithFields(logrus.Fields{
			"market": w.market.Slug, "leg": leg, "size": size, "min": cfg.MinOrderSize, "balance": balance,
		}).Debug("入场份额低于最小下单量，跳过")
		return false, "below min order size"
	}

	if !w.pos.BeginBuy(leg) {
		return false, "lock busy"
	}
	defer side.Unlock()

	res, err := w.buy(ctx, leg, size, limit, balance, purposeEntry, now)
	if err != nil {
		log.WithFields(logrus.Fields{
			"market": w.market.Slug, "leg": leg, "price": price, "limit": limit, "size": size,
		}).Warnf("入场买入失败: %v", err)
		return false, err.Error()
	}

	snap := w.pos.Snapshot()
	log.WithFields(logrus.Fields{
		"market":   w.market.Slug,
		"leg":      leg,
		"observed": price,
		"filled":   res.FilledSize,
		"avgPrice": res.AvgPrice,
		"avgYes":   snap.Yes.AvgPrice,
		"avgNo":    snap.No.AvgPrice,
		"pairCost": snap.PairCost,
	}).Info("入场成交")
	return true, ""
}

// sizeClip 单次份额：clip、单笔风险、市场资金余量、失衡余量 四者取最小
func (w *Worker) sizeClip(balance, limit, totalCost, imbalance float64) float64 {
	cfg := &w.cfg
	size := cfg.ClipSize
	if v := balance * cfg.RiskPerClip / limit; v < size {
		size = v
	}
	if v := (w.pos.MaxMarketCapital() - totalCost) / limit; v < size {
		size = v
	}
	if v := cfg.imbalanceLimit() - imbalance; v < size {
		size = v
	}
	if size < 0 {
		return 0
	}
	return floorShares(size)
}
