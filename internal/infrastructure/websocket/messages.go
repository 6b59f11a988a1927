package websocket

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/betbot/pairbot/internal/domain"
)

type level struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type priceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// event 市场频道的消息（book / price_change / last_trade_price 共用）
type event struct {
	EventType    string        `json:"event_type"`
	AssetID      string        `json:"asset_id"`
	Timestamp    string        `json:"timestamp"`
	Price        string        `json:"price"`
	Bids         []level       `json:"bids"`
	Asks         []level       `json:"asks"`
	PriceChanges []priceChange `json:"price_changes"`
}

// parseTimestamp 毫秒时间戳字符串；缺失时用本地时间
func parseTimestamp(s string, now time.Time) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return now
	}
	return time.UnixMilli(ms)
}

// bookMid 买一卖一中间价；只有一边时返回 false
func bookMid(bids, asks []level) (float64, bool) {
	bestBid, bestAsk := -1, -1
	for _, lv := range bids {
		p, err := parsePriceString(lv.Price)
		if err == nil && p.Pips > bestBid {
			bestBid = p.Pips
		}
	}
	for _, lv := range asks {
		p, err := parsePriceString(lv.Price)
		if err == nil && p.Pips > 0 && (bestAsk < 0 || p.Pips < bestAsk) {
			bestAsk = p.Pips
		}
	}
	if bestBid <= 0 || bestAsk <= 0 {
		return 0, false
	}
	return domain.Price{Pips: (bestBid + bestAsk) / 2}.ToDecimal(), true
}

// changePrice 优先 best_ask，其次 best_bid，最后 price
func changePrice(c priceChange) (float64, bool) {
	for _, s := range []string{c.BestAsk, c.BestBid, c.Price} {
		if s == "" {
			continue
		}
		if p, err := parsePriceString(s); err == nil && p.Pips > 0 {
			return p.ToDecimal(), true
		}
	}
	return 0, false
}

func (e *event) ticks(now time.Time, out []domain.PriceTick) []domain.PriceTick {
	ts := parseTimestamp(e.Timestamp, now)
	switch e.EventType {
	case "book":
		if p, ok := bookMid(e.Bids, e.Asks); ok && e.AssetID != "" {
			out = append(out, domain.PriceTick{TokenID: e.AssetID, Price: p, Timestamp: ts})
		}
	case "price_change":
		for _, c := range e.PriceChanges {
			if c.AssetID == "" {
				c.AssetID = e.AssetID
			}
			if p, ok := changePrice(c); ok && c.AssetID != "" {
				out = append(out, domain.PriceTick{TokenID: c.AssetID, Price: p, Timestamp: ts})
			}
		}
	case "last_trade_price":
		if p, err := parsePriceString(e.Price); err == nil && p.Pips > 0 && e.AssetID != "" {
			out = append(out, domain.PriceTick{TokenID: e.AssetID, Price: p.ToDecimal(), Timestamp: ts})
		}
	}
	return out
}

// parseMessage 解析一帧消息（单个对象或数组）。同一帧里同一资产只保留最后一个价格。
func parseMessage(msg []byte, now time.Time) ([]domain.PriceTick, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return nil, nil
	}
	var events []event
	if msg[0] == '[' {
		if err := json.Unmarshal(msg, &events); err != nil {
			return nil, err
		}
	} else {
		var e event
		if err := json.Unmarshal(msg, &e); err != nil {
			return nil, err
		}
		events = []event{e}
	}

	var all []domain.PriceTick
	for i := range events {
		all = events[i].ticks(now, all)
	}
	if len(all) < 2 {
		return all, nil
	}
	last := make(map[string]int, len(all))
	for i, t := range all {
		last[t.TokenID] = i
	}
	out := all[:0]
	for i, t := range all {
		if last[t.TokenID] == i {
			out = append(out, t)
		}
	}
	return out, nil
}
