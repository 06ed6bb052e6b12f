package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// DefaultMetadataTTL bounds how long a resolved market is trusted.
const DefaultMetadataTTL = 5 * time.Minute

// MetadataCache implements domain.MetadataCache.
//
// Key schema:
//
//	{ns}:market:{SYMBOL}       - hash, field "data" holds the JSON record
//	{ns}:market:index:{index}  - string, the symbol for a market index
type MetadataCache struct {
	c   *Client
	ttl time.Duration
}

// NewMetadataCache creates a MetadataCache. A non-positive ttl uses
// DefaultMetadataTTL.
func NewMetadataCache(c *Client, ttl time.Duration) *MetadataCache {
	if ttl <= 0 {
		ttl = DefaultMetadataTTL
	}
	return &MetadataCache{c: c, ttl: ttl}
}

func (mc *MetadataCache) symbolKey(symbol string) string { return mc.c.Key("market", symbol) }

func (mc *MetadataCache) indexKey(index int64) string {
	return mc.c.Key("market", "index", fmt.Sprint(index))
}

// Set stores meta and its index mapping.
func (mc *MetadataCache) Set(ctx context.Context, meta domain.MarketMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", meta.Symbol, err)
	}
	key := mc.symbolKey(meta.Symbol)

	pipe := mc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, mc.ttl)
	pipe.Set(ctx, mc.indexKey(meta.MarketIndex), meta.Symbol, mc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", meta.Symbol, err)
	}
	return nil
}

// Get returns the cached record for symbol or domain.ErrNotFound.
func (mc *MetadataCache) Get(ctx context.Context, symbol string) (domain.MarketMetadata, error) {
	data, err := mc.c.rdb.HGet(ctx, mc.symbolKey(symbol), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketMetadata{}, domain.ErrNotFound
		}
		return domain.MarketMetadata{}, fmt.Errorf("redis: get market %s: %w", symbol, err)
	}
	var meta domain.MarketMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.MarketMetadata{}, fmt.Errorf("redis: unmarshal market %s: %w", symbol, err)
	}
	return meta, nil
}

// GetByIndex looks a market up by its venue index.
func (mc *MetadataCache) GetByIndex(ctx context.Context, index int64) (domain.MarketMetadata, error) {
	symbol, err := mc.c.rdb.Get(ctx, mc.indexKey(index)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketMetadata{}, domain.ErrNotFound
		}
		return domain.MarketMetadata{}, fmt.Errorf("redis: get market index %d: %w", index, err)
	}
	return mc.Get(ctx, symbol)
}

// Invalidate drops symbol and its index mapping.
func (mc *MetadataCache) Invalidate(ctx context.Context, symbol string) error {
	meta, err := mc.Get(ctx, symbol)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate market %s: %w", symbol, err)
	}
	pipe := mc.c.rdb.TxPipeline()
	pipe.Del(ctx, mc.symbolKey(symbol))
	if err == nil {
		pipe.Del(ctx, mc.indexKey(meta.MarketIndex))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", symbol, err)
	}
	return nil
}

var _ domain.MetadataCache = (*MetadataCache)(nil)
