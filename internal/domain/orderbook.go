package domain

import "sort"

// PriceLevel 订单簿档位
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBook 订单簿快照，Bids/Asks 都是最优价在前
type OrderBook struct {
	TokenID string
	Bids    []PriceLevel
	Asks    []PriceLevel
}

// Normalize 把档位排序成最优价在前（接口返回的顺序不可靠）
func (b *OrderBook) Normalize() {
	if b == nil {
		return
	}
	sort.SliceStable(b.Bids, func(i, j int) bool { return b.Bids[i].Price > b.Bids[j].Price })
	sort.SliceStable(b.Asks, func(i, j int) bool { return b.Asks[i].Price < b.Asks[j].Price })
}

// BestBid 买一
func (b *OrderBook) BestBid() (PriceLevel, bool) {
	if b == nil || len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk 卖一
func (b *OrderBook) BestAsk() (PriceLevel, bool) {
	if b == nil || len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// BidDepthAtOrAbove 价格 >= price 的买盘累计数量（卖出时能吃到的深度）
func (b *OrderBook) BidDepthAtOrAbove(price float64) float64 {
	if b == nil {
		return 0
	}
	total := 0.0
	for _, lv := range b.Bids {
		if lv.Price+1e-9 < price {
			break
		}
		total += lv.Size
	}
	return total
}

// AskDepthAtOrBelow 价格 <= price 的卖盘累计数量（买入时能吃到的深度）
func (b *OrderBook) AskDepthAtOrBelow(price float64) float64 {
	if b == nil {
		return 0
	}
	total := 0.0
	for _, lv := range b.Asks {
		if lv.Price-1e-9 > price {
			break
		}
		total += lv.Size
	}
	return total
}
