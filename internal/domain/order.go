package domain

import (
	"math"
	"time"
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType 订单类型
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC"
	OrderTypeFAK OrderType = "FAK" // 吃单：能成交多少算多少，剩余立即撤销
	OrderTypeFOK OrderType = "FOK"
)

// OrderRequest 下单请求
type OrderRequest struct {
	TokenID   string
	Side      Side
	Price     float64 // 限价（买入为上限，卖出为下限）
	Size      float64 // 份额
	OrderType OrderType
}

// Notional 请求名义金额（USDC）
func (r OrderRequest) Notional() float64 {
	return r.Price * r.Size
}

// OrderResult 下单结果（只关心真实成交）
type OrderResult struct {
	OrderID    string
	FilledSize float64 // 实际成交份额
	AvgPrice   float64 // 成交均价
	FilledAt   time.Time
}

// Notional 成交金额（USDC）
func (r *OrderResult) Notional() float64 {
	if r == nil {
		return 0
	}
	return r.FilledSize * r.AvgPrice
}

// PriceTick 价格推送事件
type PriceTick struct {
	TokenID   string
	Price     float64
	Timestamp time.Time
}

// Price 价格值对象（固定精度：1e-4）
//
// Polymarket 的 tick size 可能为 0.1 / 0.01 / 0.001 / 0.0001。
// 内部使用 1e-4 作为最小单位（pips）：
//   - 1 pip  = 0.0001
//   - 100 pips = 0.01
//   - 10000 pips = 1.0
type Price struct {
	Pips int
}

// ToDecimal 转换为小数（例如 6000 pips = 0.6000）
func (p Price) ToDecimal() float64 {
	return float64(p.Pips) / 10000.0
}

// ToCents 返回“分（0.01）口径”的整数（用于日志展示）。
func (p Price) ToCents() int {
	return int(math.Round(float64(p.Pips) / 100.0))
}

// PriceFromDecimal 从小数创建价格（四舍五入到 1e-4）
func PriceFromDecimal(decimal float64) Price {
	return Price{Pips: int(math.Round(decimal * 10000))}
}

// FloorToTick 向下取整到 tick（卖单限价用，避免越过目标价）
func FloorToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Floor(price/tick+1e-9) * tick
}

// CeilToTick 向上取整到 tick（买单限价用）
func CeilToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Ceil(price/tick-1e-9) * tick
}
