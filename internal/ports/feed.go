package ports

import (
	"context"

	"github.com/betbot/pairbot/internal/domain"
)

// PriceFeed streams price ticks for subscribed token ids.
type PriceFeed interface {
	Subscribe(ctx context.Context, tokenIDs ...string) error
	Unsubscribe(tokenIDs ...string) error
	Ticks() <-chan domain.PriceTick
}
