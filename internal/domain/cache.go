package domain

import (
	"context"
	"time"
)

// StatsCache caches derived creator analytics between settlements.
type StatsCache interface {
	Set(ctx context.Context, a CreatorAnalytics) error
	Get(ctx context.Context, creatorID string) (CreatorAnalytics, error)
	Invalidate(ctx context.Context, creatorID string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus provides pub/sub fan-out plus a durable stream of ledger events.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
