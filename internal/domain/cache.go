package domain

import (
	"context"
	"time"
)

// PostCache is a read-through cache of post state. Entries must be
// invalidated after every mutation of the post.
type PostCache interface {
	Set(ctx context.Context, post Post) error
	Get(ctx context.Context, id string) (Post, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter provides per-key request limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
