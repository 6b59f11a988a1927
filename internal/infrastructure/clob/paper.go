package clob

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/pairbot/internal/domain"
	"github.com/betbot/pairbot/internal/ports"
)

// BookSource 盘口来源（真实 CLOB 的只读客户端）
type BookSource interface {
	GetOrderBook(ctx context.Context, tokenID string) (*domain.OrderBook, error)
}

// PaperGateway 模拟盘：用真实盘口撮合 FAK 订单，余额和持仓只在内存里
type PaperGateway struct {
	books BookSource

	mu        sync.Mutex
	balance   decimal.Decimal
	positions map[string]decimal.Decimal
	seq       int
}

var _ ports.ExchangeGateway = (*PaperGateway)(nil)

func NewPaperGateway(books BookSource, balance float64) *PaperGateway {
	return &PaperGateway{
		books:     books,
		balance:   decimal.NewFromFloat(balance),
		positions: make(map[string]decimal.Decimal),
	}
}

func (g *PaperGateway) GetOrderBook(ctx context.Context, tokenID string) (*domain.OrderBook, error) {
	return g.books.GetOrderBook(ctx, tokenID)
}

func (g *PaperGateway) GetBalance(context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balance.InexactFloat64(), nil
}

// Position 模拟持仓
func (g *PaperGateway) Position(tokenID string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.positions[tokenID].InexactFloat64()
}

// PlaceOrder 按档位吃单：买单吃不高于限价的卖盘，卖单吃不低于限价的买盘
func (g *PaperGateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	book, err := g.books.GetOrderBook(ctx, req.TokenID)
	if err != nil {
		return nil, err
	}
	book.Normalize()

	g.mu.Lock()
	defer g.mu.Unlock()

	want := decimal.NewFromFloat(req.Size)
	limit := decimal.NewFromFloat(req.Price)
	filled, cost := decimal.Zero, decimal.Zero

	switch req.Side {
	case domain.SideBuy:
		for _, lv := range book.Asks {
			p := decimal.NewFromFloat(lv.Price)
			if p.GreaterThan(limit) || !filled.LessThan(want) {
				break
			}
			qty := decimal.Min(decimal.NewFromFloat(lv.Size), want.Sub(filled))
			// 余额不够时按余额能买的部分成交
			if afford := g.balance.Sub(cost).Div(p).Truncate(2); qty.GreaterThan(afford) {
				qty = afford
			}
			if !qty.IsPositive() {
				break
			}
			filled = filled.Add(qty)
			cost = cost.Add(qty.Mul(p))
		}
		g.balance = g.balance.Sub(cost)
		g.positions[req.TokenID] = g.positions[req.TokenID].Add(filled)

	case domain.SideSell:
		if held := g.positions[req.TokenID]; want.GreaterThan(held) {
			want = held
		}
		for _, lv := range book.Bids {
			p := decimal.NewFromFloat(lv.Price)
			if p.LessThan(limit) || !filled.LessThan(want) {
				break
			}
			qty := decimal.Min(decimal.NewFromFloat(lv.Size), want.Sub(filled))
			filled = filled.Add(qty)
			cost = cost.Add(qty.Mul(p))
		}
		g.balance = g.balance.Add(cost)
		g.positions[req.TokenID] = g.positions[req.TokenID].Sub(filled)

	default:
		return nil, fmt.Errorf("invalid side %q", req.Side)
	}

	if !filled.IsPositive() {
		return nil, ports.ErrNotFilled
	}
	g.seq++
	res := &domain.OrderResult{
		OrderID:    fmt.Sprintf("paper-%d", g.seq),
		FilledSize: filled.InexactFloat64(),
		AvgPrice:   cost.Div(filled).InexactFloat64(),
		FilledAt:   time.Now(),
	}
	log.WithFields(logrus.Fields{
		"token":   req.TokenID,
		"side":    req.Side,
		"limit":   req.Price,
		"size":    req.Size,
		"filled":  res.FilledSize,
		"avg":     res.AvgPrice,
		"balance": g.balance.StringFixed(4),
	}).Info("模拟成交")
	return res, nil
}
