// Package redis caches the latest observed price per source and symbol so
// downstream services can answer price lookups without touching the database.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/market"
)

const priceTTL = 5 * time.Minute

// PriceCache stores the last trade price under price:{source}:{symbol}.
// Writes are best effort; a cache failure must never abort ingestion.
type PriceCache struct {
	client *redis.Client
}

func NewPriceCache(client *redis.Client) *PriceCache {
	return &PriceCache{client: client}
}

// Ping checks the connection to the Redis server.
func (c *PriceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *PriceCache) key(source, symbol string) string {
	return fmt.Sprintf("price:%s:%s", source, symbol)
}

// SetLatest stores the trade's price with a TTL so symbols that stop trading
// age out of the cache.
func (c *PriceCache) SetLatest(ctx context.Context, source string, trade market.Trade) error {
	return c.client.Set(ctx, c.key(source, trade.Symbol), trade.Price.String(), priceTTL).Err()
}

// GetLatest returns the cached price string for a source and symbol.
func (c *PriceCache) GetLatest(ctx context.Context, source, symbol string) (string, error) {
	return c.client.Get(ctx, c.key(source, symbol)).Result()
}

func (c *PriceCache) Close() error {
	return c.client.Close()
}
