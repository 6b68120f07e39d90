// Package cache provides a Redis-backed cache of the latest graph snapshot
// per session, serving the read path without a round trip to Postgres.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when no cached snapshot exists for a session.
var ErrMiss = fmt.Errorf("snapshot not cached")

// SnapshotCache stores the latest projected graph document for each session.
// It is strictly a read accelerator: the merge pipeline always reads the
// authoritative state from Postgres.
type SnapshotCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewSnapshotCache connects to Redis and verifies the connection.
func NewSnapshotCache(redisURL string, ttl time.Duration) (*SnapshotCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &SnapshotCache{
		client: client,
		prefix: "snapshot:",
		ttl:    ttl,
	}, nil
}

// NewSnapshotCacheWithClient creates a cache from an existing Redis client.
func NewSnapshotCacheWithClient(client *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{
		client: client,
		prefix: "snapshot:",
		ttl:    ttl,
	}
}

func (c *SnapshotCache) key(sessionKey string) string {
	return c.prefix + sessionKey
}

// Set stores the serialized latest snapshot for a session.
func (c *SnapshotCache) Set(ctx context.Context, sessionKey string, doc []byte) error {
	if err := c.client.Set(ctx, c.key(sessionKey), doc, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache snapshot: %w", err)
	}
	return nil
}

// Get returns the cached snapshot document, or ErrMiss when absent.
func (c *SnapshotCache) Get(ctx context.Context, sessionKey string) ([]byte, error) {
	doc, err := c.client.Get(ctx, c.key(sessionKey)).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("read cached snapshot: %w", err)
	}
	return doc, nil
}

// Invalidate drops the cached snapshot for a session.
func (c *SnapshotCache) Invalidate(ctx context.Context, sessionKey string) error {
	if err := c.client.Del(ctx, c.key(sessionKey)).Err(); err != nil {
		return fmt.Errorf("invalidate cached snapshot: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *SnapshotCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *SnapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
