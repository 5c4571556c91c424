package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/virtualbank/marketsim/internal/domain"
)

const tickerHashKey = "market:tickers"

// Cache is the Redis-backed hot read path for live ticker snapshots,
// grounded on original_source's cache_tickers/load_cached_tickers — one
// hash, one field per symbol, JSON-encoded values.
type Cache struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewCache connects to Redis. Callers build a Cache only when a redis URL
// is configured and otherwise pass a nil *Cache, which the orchestrator
// skips. Unlike risk.Gateway and analytics.Sink, a Cache has no disabled
// mode of its own: its methods must not be called on a nil Cache.
func NewCache(ctx context.Context, addr string, logger zerolog.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Cache{client: client, log: logger.With().Str("component", "cache").Logger()}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// CacheTickers writes every snapshot into the tickers hash in one HSET.
func (c *Cache) CacheTickers(ctx context.Context, snapshots []domain.TickerSnapshot) {
	if len(snapshots) == 0 {
		return
	}
	mapping := make(map[string]any, len(snapshots))
	for _, snap := range snapshots {
		encoded, err := json.Marshal(snap)
		if err != nil {
			continue
		}
		mapping[snap.Symbol] = encoded
	}
	if err := c.client.HSet(ctx, tickerHashKey, mapping).Err(); err != nil {
		c.log.Warn().Err(err).Msg("failed to cache ticker snapshots")
	}
}

// LoadCachedTickers reads every cached snapshot back out. Used only to
// serve reads faster than re-deriving from the pricing service; the
// pricing service remains the source of truth.
func (c *Cache) LoadCachedTickers(ctx context.Context) ([]domain.TickerSnapshot, error) {
	data, err := c.client.HGetAll(ctx, tickerHashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load cached tickers: %w", err)
	}
	out := make([]domain.TickerSnapshot, 0, len(data))
	for _, raw := range data {
		var snap domain.TickerSnapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}
