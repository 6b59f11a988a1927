package pairhedge

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/pairbot/internal/domain"
	"github.com/betbot/pairbot/internal/metrics"
)

// checkNakedTimeout 定时器驱动：单腿裸露超过 leg2 timeout 时，按最近观测价买入缺失腿。
// 这是止损动作：不受单笔风险比例和断路器限制，但不会超过可用余额。
func (w *Worker) checkNakedTimeout(ctx context.Context, now time.Time) bool {
	if !w.hedgeRunning.CompareAndSwap(false, true) {
		return false
	}
	defer w.hedgeRunning.Store(false)

	if w.pos.Status() != StatusScanning {
		return false
	}
	y, n := w.pos.Side(domain.LegYes).Snapshot(), w.pos.Side(domain.LegNo).Snapshot()
	var (
		missing domain.Leg
		naked   SideSnapshot
	)
	switch {
	case y.Shares > 0 && n.Shares <= 0:
		missing, naked = domain.LegNo, y
	case n.Shares > 0 && y.Shares <= 0:
		missing, naked = domain.LegYes, n
	default:
		return false
	}
	elapsed := now.Sub(naked.FirstBuyTs)
	if elapsed <= w.cfg.Leg2Timeout.Duration {
		return false
	}

	fields := logrus.Fields{
		"market":      w.market.Slug,
		"missing":     missing,
		"nakedShares": naked.Shares,
		"nakedAvg":    naked.AvgPrice,
		"elapsed":     elapsed.Round(time.Second).String(),
		"timeout":     w.cfg.Leg2Timeout.Duration.String(),
	}

	price := w.lastPrice(missing)
	if price <= 0 {
		book, err := w.deps.Gateway.GetOrderBook(ctx, w.market.TokenID(missing))
		if err != nil {
			w.observeGateway(err)
			log.WithFields(fields).Warnf("强制对冲：获取盘口失败，下次重试: %v", err)
			return false
		}
		book.Normalize()
		if ask, ok := book.BestAsk(); ok {
			price = ask.Price
		}
	}
	if price <= 0 {
		log.WithFields(fields).Warn("强制对冲：没有可用价格，下次重试")
		return false
	}
	limit := domain.CeilToTick(price+w.cfg.HedgeSlippage, w.cfg.TickSize)
	if maxLimit := 1 - w.cfg.TickSize; limit > maxLimit {
		limit = maxLimit
	}

	balance, err := w.deps.Gateway.GetBalance(ctx)
	if err != nil {
		w.observeGateway(err)
		log.WithFields(fields).Warnf("强制对冲：获取余额失败，下次重试: %v", err)
		return false
	}
	size := naked.Shares
	if avail := w.deps.Guard.Available(balance); size*limit > avail {
		size = avail / limit
	}
	size = floorShares(size)
	fields["price"], fields["limit"], fields["size"], fields["balance"] = price, limit, size, balance
	if size < w.cfg.MinOrderSize {
		log.WithFields(fields).Warn("强制对冲：可用余额不足最小下单量，下次重试")
		metrics.ForceHedgesTotal.WithLabelValues("insufficient").Inc()
		return false
	}

	if !w.pos.BeginHedge(missing) {
		return false
	}
	defer w.pos.Side(missing).Unlock()

	res, err := w.buy(ctx, missing, size, limit, balance, purposeHedge, now)
	if err != nil {
		metrics.ForceHedgesTotal.WithLabelValues("failed").Inc()
		log.WithFields(fields).Warnf("强制对冲失败，下次重试: %v", err)
		return false
	}
	metrics.ForceHedgesTotal.WithLabelValues("filled").Inc()
	fields["filled"], fields["avgPrice"] = res.FilledSize, res.AvgPrice
	log.WithFields(fields).Warn("强制对冲完成，不再主动加仓")
	return true
}
