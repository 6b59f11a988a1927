package pairhedge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/pairbot/internal/domain"
	"github.com/betbot/pairbot/internal/journal"
	"github.com/betbot/pairbot/internal/metrics"
	"github.com/betbot/pairbot/internal/ports"
)

const (
	purposeEntry = "entry"
	purposeHedge = "hedge"
)

// errInsufficientCapital 预留失败（余额 − 已预留 不够）
var errInsufficientCapital = errors.New("insufficient capital")

// 份额精度 0.01
func floorShares(v float64) float64 {
	return math.Floor(v*100+1e-9) / 100
}

// buy 预留资金 → 下单 → 记录成交。任何失败路径（包括 panic）都会归还预留。
func (w *Worker) buy(ctx context.Context, leg domain.Leg, size, limit, balance float64, purpose string, now time.Time) (*domain.OrderResult, error) {
	guard := w.deps.Guard
	amount := size * limit
	if !guard.TryReserve(amount, balance) {
		metrics.ObserveOrder(purpose, errInsufficientCapital)
		return nil, fmt.Errorf("reserve %.4f of %.4f (reserved %.4f): %w", amount, balance, guard.Reserved(), errInsufficientCapital)
	}
	defer guard.Finish()
	metrics.CapitalReserved.Set(guard.Reserved())

	succeeded := false
	defer func() {
		if !succeeded {
			guard.Release(amount)
			metrics.CapitalReserved.Set(guard.Reserved())
		}
	}()

	req := domain.OrderRequest{
		TokenID:   w.market.TokenID(leg),
		Side:      domain.SideBuy,
		Price:     limit,
		Size:      size,
		OrderType: domain.OrderTypeFAK,
	}
	res, err := w.deps.Gateway.PlaceOrder(ctx, req)
	if err == nil && (res == nil || res.FilledSize <= 0) {
		err = ports.ErrNotFilled
	}
	w.journalOrder(ctx, purpose, leg, req, res, err)
	metrics.ObserveOrder(purpose, err)
	w.observeGateway(err)
	if err != nil {
		return nil, err
	}
	succeeded = true

	// FAK 未成交的部分不会花钱，只归还这部分
	if unfilled := size - res.FilledSize; unfilled > 0 {
		guard.Release(unfilled * limit)
		metrics.CapitalReserved.Set(guard.Reserved())
	}

	record := w.pos.RecordFill
	if purpose == purposeHedge {
		record = w.pos.RecordHedgeFill
	}
	if !record(leg, res.FilledSize, res.AvgPrice, now) {
		log.WithFields(logrus.Fields{"market": w.market.Slug, "leg": leg}).Warn("仓位已完成，忽略迟到的成交")
		return res, nil
	}
	w.syncCycle(ctx)
	return res, nil
}

// sell 卖出不占用资金，不做预留
func (w *Worker) sell(ctx context.Context, leg domain.Leg, size, price float64, purpose string) (float64, error) {
	size = floorShares(size)
	if size <= 0 {
		return 0, ports.ErrNotFilled
	}
	req := domain.OrderRequest{
		TokenID:   w.market.TokenID(leg),
		Side:      domain.SideSell,
		Price:     price,
		Size:      size,
		OrderType: domain.OrderTypeFAK,
	}
	res, err := w.deps.Gateway.PlaceOrder(ctx, req)
	if err == nil && (res == nil || res.FilledSize <= 0) {
		err = ports.ErrNotFilled
	}
	w.journalOrder(ctx, purpose, leg, req, res, err)
	metrics.ObserveOrder(purpose, err)
	w.observeGateway(err)
	if err != nil {
		return 0, err
	}
	w.pos.RecordSale(leg, res.FilledSize, res.AvgPrice)
	return res.FilledSize, nil
}

// observeGateway 只有交易所调用本身失败才计入断路器；“没成交”不算故障
func (w *Worker) observeGateway(err error) {
	switch {
	case err == nil:
		w.deps.Breaker.OnSuccess()
	case errors.Is(err, ports.ErrNotFilled), errors.Is(err, context.Canceled):
	default:
		w.deps.Breaker.OnError()
	}
}

func (w *Worker) journalOrder(ctx context.Context, purpose string, leg domain.Leg, req domain.OrderRequest, res *domain.OrderResult, err error) {
	rec := journal.OrderRecord{
		Market:  w.market.Slug,
		Purpose: purpose,
		Leg:     leg.String(),
		Side:    string(req.Side),
		Price:   req.Price,
		Size:    req.Size,
	}
	if res != nil {
		rec.FilledSize = res.FilledSize
		rec.AvgPrice = res.AvgPrice
		rec.OrderID = res.OrderID
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if jerr := w.deps.Journal.RecordOrder(context.WithoutCancel(ctx), rec); jerr != nil {
		log.Warnf("写 journal 失败: %v", jerr)
	}
}
