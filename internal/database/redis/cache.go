package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/snaplink/snaplink/internal/database"
)

// LinkCache maps short codes to original URLs with a bounded TTL.
// It is never authoritative: every entry must be derivable from the
// postgres store, and staleness self-heals when the TTL expires.
type LinkCache struct {
	client *redis.Client
}

func New(ctx context.Context, addr, password string, db int) (*LinkCache, error) {
	const op = "database.redis.New"

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: failed to connect to redis: %w", op, err)
	}

	return &LinkCache{client: client}, nil
}

func (c *LinkCache) Get(ctx context.Context, shortCode string) (string, error) {
	const op = "database.redis.LinkCache.Get"

	originalURL, err := c.client.Get(ctx, shortCode).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%s: %w", op, database.ErrCacheMiss)
		}

		return "", fmt.Errorf("%s: failed to get cache entry: %w", op, err)
	}

	return originalURL, nil
}

func (c *LinkCache) Set(ctx context.Context, shortCode, originalURL string, ttl time.Duration) error {
	const op = "database.redis.LinkCache.Set"

	if err := c.client.Set(ctx, shortCode, originalURL, ttl).Err(); err != nil {
		return fmt.Errorf("%s: failed to set cache entry: %w", op, err)
	}

	return nil
}

func (c *LinkCache) Delete(ctx context.Context, shortCode string) error {
	const op = "database.redis.LinkCache.Delete"

	if err := c.client.Del(ctx, shortCode).Err(); err != nil {
		return fmt.Errorf("%s: failed to delete cache entry: %w", op, err)
	}

	return nil
}

func (c *LinkCache) Close() error {
	return c.client.Close()
}
