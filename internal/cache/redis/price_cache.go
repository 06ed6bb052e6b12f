package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// priceTTL keeps stale assets from lingering once nothing quotes them.
const priceTTL = time.Hour

// PriceCache implements domain.PriceCache. Each asset is a hash at
// {ns}:price:{ASSET} with fields "price" and "ts" (unix nanoseconds).
type PriceCache struct {
	c *Client
}

// NewPriceCache creates a PriceCache backed by c.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{c: c}
}

// SetPrice stores the latest USD price for asset.
func (pc *PriceCache) SetPrice(ctx context.Context, asset string, price float64, ts time.Time) error {
	key := pc.c.Key("price", asset)
	pipe := pc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, priceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", asset, err)
	}
	return nil
}

// GetPrice returns the stored price and its timestamp, or
// domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, asset string) (float64, time.Time, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.c.Key("price", asset)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", asset, err)
	}
	return parsePriceHash(asset, vals)
}

func parsePriceHash(asset string, vals map[string]string) (float64, time.Time, error) {
	ps, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	ts, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(ps, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", asset, err)
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", asset, err)
	}
	return price, time.Unix(0, nanos).UTC(), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
