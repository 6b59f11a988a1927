package ports

import (
	"context"
	"errors"

	"github.com/betbot/pairbot/internal/domain"
)

// ErrNotFilled is returned when an order was accepted but nothing matched.
var ErrNotFilled = errors.New("order not filled")

// ExchangeGateway is the order/balance/book boundary to the exchange.
// All calls are latency-bearing round trips and may fail.
type ExchangeGateway interface {
	// PlaceOrder submits an order and returns the actual fill.
	// A zero fill is reported as ErrNotFilled.
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error)
	// GetBalance returns the spendable collateral balance (USDC).
	GetBalance(ctx context.Context) (float64, error)
	// GetOrderBook returns the book with best price first on both sides.
	GetOrderBook(ctx context.Context, tokenID string) (*domain.OrderBook, error)
}

// BalanceGetter is the read-only subset used by sizing and rotation.
type BalanceGetter interface {
	GetBalance(ctx context.Context) (float64, error)
}
