package redis

import (
	"context"
	"time"

	"github.com/alem-hub/stepquest/internal/application/eventhandler"
)

// DeliveryGuard implements eventhandler.DeliveryGuard with one marker key per
// (category, threshold). It narrows the duplicate window of at-least-once
// delivery when a message is redelivered after a lost status update.
type DeliveryGuard struct {
	cache *Cache
	ttl   time.Duration
}

// NewDeliveryGuard creates a DeliveryGuard. A non-positive ttl uses TTLDeliveryMarker.
func NewDeliveryGuard(cache *Cache, ttl time.Duration) *DeliveryGuard {
	if ttl <= 0 {
		ttl = TTLDeliveryMarker
	}
	return &DeliveryGuard{cache: cache, ttl: ttl}
}

// Delivered implements eventhandler.DeliveryGuard.
func (g *DeliveryGuard) Delivered(ctx context.Context, key string) (bool, error) {
	return g.cache.Exists(ctx, DeliveredKey(key))
}

// MarkDelivered implements eventhandler.DeliveryGuard.
func (g *DeliveryGuard) MarkDelivered(ctx context.Context, key string) error {
	_, err := g.cache.SetNX(ctx, DeliveredKey(key), time.Now().UTC(), g.ttl)
	return err
}

var _ eventhandler.DeliveryGuard = (*DeliveryGuard)(nil)
