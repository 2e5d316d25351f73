package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oddslab/signaldesk/internal/domain"
)

// StatsCache implements domain.StatsCache using JSON-serialized analytics
// under per-creator keys. Settlement invalidates the key, so a hit is never
// staler than the configured TTL or the creator's last settlement, whichever
// is sooner.
//
// Key schema:
//
//	stats:{creatorID} - string value containing JSON
type StatsCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStatsCache creates a StatsCache backed by the given Client.
func NewStatsCache(c *Client, ttl time.Duration) *StatsCache {
	return &StatsCache{rdb: c.Underlying(), ttl: ttl}
}

func statsKey(creatorID string) string { return "stats:" + creatorID }

// Set stores derived creator analytics with the configured TTL.
func (sc *StatsCache) Set(ctx context.Context, a domain.CreatorAnalytics) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("redis: marshal stats %s: %w", a.CreatorID, err)
	}

	if err := sc.rdb.Set(ctx, statsKey(a.CreatorID), data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set stats %s: %w", a.CreatorID, err)
	}
	return nil
}

// Get retrieves cached analytics for a creator.
// It returns domain.ErrNotFound when the key does not exist.
func (sc *StatsCache) Get(ctx context.Context, creatorID string) (domain.CreatorAnalytics, error) {
	data, err := sc.rdb.Get(ctx, statsKey(creatorID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.CreatorAnalytics{}, domain.ErrNotFound
		}
		return domain.CreatorAnalytics{}, fmt.Errorf("redis: get stats %s: %w", creatorID, err)
	}

	var a domain.CreatorAnalytics
	if err := json.Unmarshal(data, &a); err != nil {
		return domain.CreatorAnalytics{}, fmt.Errorf("redis: unmarshal stats %s: %w", creatorID, err)
	}
	return a, nil
}

// Invalidate removes a creator's cached analytics.
func (sc *StatsCache) Invalidate(ctx context.Context, creatorID string) error {
	if err := sc.rdb.Del(ctx, statsKey(creatorID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate stats %s: %w", creatorID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.StatsCache = (*StatsCache)(nil)
