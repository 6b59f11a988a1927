package ports

import (
	"context"
	"errors"

	"github.com/betbot/pairbot/internal/domain"
	"github.com/betbot/pairbot/pkg/marketspec"
)

// ErrNoActiveMarket is returned when discovery has no tradable market right now.
var ErrNoActiveMarket = errors.New("no active market")

// MarketDiscovery resolves markets by instrument/timeframe or by slug.
type MarketDiscovery interface {
	FindActiveMarket(ctx context.Context, inst marketspec.Instrument, tf marketspec.Timeframe) (*domain.Market, error)
	MarketBySlug(ctx context.Context, slug string) (*domain.Market, error)
}
