package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache handles Redis operations for cached message pages.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping checks the Redis connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// messagesKey returns the key for a conversation's cached message page.
func messagesKey(convID string) string {
	return "messages:" + convID
}

// GetPage returns the cached page for a conversation, if present.
func (c *RedisCache) GetPage(ctx context.Context, convID string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, messagesKey(convID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// PutPage stores a serialized page with the given TTL.
func (c *RedisCache) PutPage(ctx context.Context, convID string, page []byte, ttl time.Duration) error {
	return c.client.Set(ctx, messagesKey(convID), page, ttl).Err()
}

// Invalidate deletes a conversation's cached page.
func (c *RedisCache) Invalidate(ctx context.Context, convID string) error {
	return c.client.Del(ctx, messagesKey(convID)).Err()
}
