package domain

import (
	"testing"
	"time"
)

func TestOrderBook_NormalizeAndDepth(t *testing.T) {
	b := &OrderBook{
		TokenID: "YES",
		Bids:    []PriceLevel{{Price: 0.60, Size: 5}, {Price: 0.62, Size: 10}, {Price: 0.61, Size: 7}},
		Asks:    []PriceLevel{{Price: 0.66, Size: 3}, {Price: 0.64, Size: 4}},
	}
	b.Normalize()

	bid, ok := b.BestBid()
	if !ok || bid.Price != 0.62 {
		t.Fatalf("expected best bid 0.62, got %+v", bid)
	}
	ask, ok := b.BestAsk()
	if !ok || ask.Price != 0.64 {
		t.Fatalf("expected best ask 0.64, got %+v", ask)
	}
	// 0.62 + 0.61 两档
	if got := b.BidDepthAtOrAbove(0.61); got != 17 {
		t.Fatalf("expected bid depth 17, got %v", got)
	}
	if got := b.BidDepthAtOrAbove(0.70); got != 0 {
		t.Fatalf("expected no depth above best bid, got %v", got)
	}
	if got := b.AskDepthAtOrBelow(0.66); got != 7 {
		t.Fatalf("expected ask depth 7, got %v", got)
	}
}

func TestMarket_LegOfAndRemaining(t *testing.T) {
	now := time.Now()
	m := &Market{Slug: "btc-updown-15m-1", YesTokenID: "Y", NoTokenID: "N", EndTime: now.Add(30 * time.Second)}
	if !m.IsValid() {
		t.Fatalf("expected valid market")
	}
	if leg, ok := m.LegOf("N"); !ok || leg != LegNo {
		t.Fatalf("expected NO leg, got %v %v", leg, ok)
	}
	if _, ok := m.LegOf("X"); ok {
		t.Fatalf("unknown token must not resolve")
	}
	if m.TokenID(LegYes.Opposite()) != "N" {
		t.Fatalf("opposite of yes must map to NO token")
	}
	if m.Remaining(now.Add(time.Minute)) != 0 {
		t.Fatalf("expired market must report zero remaining")
	}
}

func TestTickRounding(t *testing.T) {
	if got := FloorToTick(0.6789, 0.01); got < 0.669 || got > 0.671 {
		t.Fatalf("floor: got %v", got)
	}
	if got := CeilToTick(0.6711, 0.01); got < 0.679 || got > 0.681 {
		t.Fatalf("ceil: got %v", got)
	}
	if p := PriceFromDecimal(0.55); p.Pips != 5500 || p.ToCents() != 55 {
		t.Fatalf("unexpected price %+v", p)
	}
}
