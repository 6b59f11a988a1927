package pairhedge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/betbot/pairbot/internal/domain"
	"github.com/betbot/pairbot/internal/ledger"
	"github.com/betbot/pairbot/internal/risk"
)

var errGateway = errors.New("gateway down")

// fakeGateway 默认按限价全部成交；place 可以替换成交行为
type fakeGateway struct {
	mu      sync.Mutex
	balance float64
	books   map[string]*domain.OrderBook
	orders  []domain.OrderRequest
	place   func(n int, req domain.OrderRequest) (*domain.OrderResult, error)
}

func newFakeGateway(balance float64) *fakeGateway {
	return &fakeGateway{balance: balance, books: map[string]*domain.OrderBook{}}
}

func (g *fakeGateway) PlaceOrder(_ context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	g.mu.Lock()
	g.orders = append(g.orders, req)
	n := len(g.orders)
	place := g.place
	g.mu.Unlock()
	if place != nil {
		return place(n, req)
	}
	return &domain.OrderResult{OrderID: "ord", FilledSize: req.Size, AvgPrice: req.Price, FilledAt: time.Now()}, nil
}

func (g *fakeGateway) GetBalance(context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balance, nil
}

func (g *fakeGateway) GetOrderBook(_ context.Context, tokenID string) (*domain.OrderBook, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.books[tokenID]
	if !ok {
		return &domain.OrderBook{TokenID: tokenID}, nil
	}
	cp := *b
	cp.Bids = append([]domain.PriceLevel(nil), b.Bids...)
	cp.Asks = append([]domain.PriceLevel(nil), b.Asks...)
	return &cp, nil
}

func (g *fakeGateway) setBid(tokenID string, price, size float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.books[tokenID] = &domain.OrderBook{TokenID: tokenID, Bids: []domain.PriceLevel{{Price: price, Size: size}}}
}

func (g *fakeGateway) placed() []domain.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.OrderRequest(nil), g.orders...)
}

type harness struct {
	w      *Worker
	gw     *fakeGateway
	ledger *ledger.Ledger
	guard  *risk.CapitalGuard
	t0     time.Time
}

func testMarket(t0 time.Time, remaining time.Duration) *domain.Market {
	return &domain.Market{
		Slug:       "btc-updown-15m-1765985400",
		Instrument: "btc",
		YesTokenID: "tok-yes",
		NoTokenID:  "tok-no",
		EndTime:    t0.Add(remaining),
	}
}

func testConfig(t *testing.T) Config {
	cfg := Config{DipThreshold: 0.20, SumTarget: 0.95}
	require.NoError(t, cfg.Validate())
	return cfg
}

func newHarness(t *testing.T, cfg Config, remaining time.Duration) *harness {
	t.Helper()
	t0 := time.Date(2025, 12, 17, 15, 0, 0, 0, time.UTC)
	gw := newFakeGateway(100)
	l := ledger.New(ledger.NewFileStore(t.TempDir(), "test"))
	t.Cleanup(func() { _ = l.Close() })
	guard := risk.NewCapitalGuard()
	w := NewWorker(cfg, testMarket(t0, remaining), 1000, Deps{
		Gateway: gw,
		Ledger:  l,
		Guard:   guard,
		Breaker: risk.NewCircuitBreaker(risk.CircuitBreakerConfig{MaxConsecutiveErrors: 3, Cooldown: time.Minute}),
		Now:     func() time.Time { return t0 },
	})
	return &harness{w: w, gw: gw, ledger: l, guard: guard, t0: t0}
}
