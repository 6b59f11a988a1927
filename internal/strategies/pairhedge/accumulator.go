package pairhedge

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// SideAccumulator 单腿的累计份额/成本。均价由总和重算，不单独存储。
type SideAccumulator struct {
	mu            sync.Mutex
	totalShares   decimal.Decimal
	totalCost     decimal.Decimal
	firstBuyTs    time.Time
	lastBuyTs     time.Time
	lastFillPrice float64

	// 同一腿同一时刻最多一笔在途买单
	buying atomic.Bool
}

// SideSnapshot 只读快照
type SideSnapshot struct {
	Shares        float64   `json:"shares"`
	Cost          float64   `json:"cost"`
	AvgPrice      float64   `json:"avgPrice"`
	FirstBuyTs    time.Time `json:"firstBuyTs"`
	LastBuyTs     time.Time `json:"lastBuyTs"`
	LastFillPrice float64   `json:"lastFillPrice"`
	Buying        bool      `json:"buying"`
}

// TryLock 获取本腿买入锁
func (a *SideAccumulator) TryLock() bool { return a.buying.CompareAndSwap(false, true) }

// Unlock 释放本腿买入锁
func (a *SideAccumulator) Unlock() { a.buying.Store(false) }

func (a *SideAccumulator) IsBuying() bool { return a.buying.Load() }

// AddFill 累加一笔成交
func (a *SideAccumulator) AddFill(shares, price float64, ts time.Time) {
	if shares <= 0 || price <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	qty := decimal.NewFromFloat(shares)
	a.totalShares = a.totalShares.Add(qty)
	a.totalCost = a.totalCost.Add(qty.Mul(decimal.NewFromFloat(price)))
	if a.firstBuyTs.IsZero() {
		a.firstBuyTs = ts
	}
	a.lastBuyTs = ts
	a.lastFillPrice = price
}

// Seed 重启恢复：用账本里的累计值初始化
func (a *SideAccumulator) Seed(shares, cost decimal.Decimal, ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalShares = shares
	a.totalCost = cost
	if shares.IsPositive() {
		a.firstBuyTs = ts
		a.lastBuyTs = ts
		a.lastFillPrice = cost.Div(shares).InexactFloat64()
	}
}

// Totals 精确累计值（写账本用）
func (a *SideAccumulator) Totals() (shares, cost decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalShares, a.totalCost
}

func (a *SideAccumulator) Snapshot() SideSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := SideSnapshot{
		Shares:        a.totalShares.InexactFloat64(),
		Cost:          a.totalCost.InexactFloat64(),
		FirstBuyTs:    a.firstBuyTs,
		LastBuyTs:     a.lastBuyTs,
		LastFillPrice: a.lastFillPrice,
		Buying:        a.buying.Load(),
	}
	if a.totalShares.IsPositive() {
		s.AvgPrice = a.totalCost.Div(a.totalShares).InexactFloat64()
	}
	return s
}
