package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mrkniai/backend/internal/config"
	"github.com/mrkniai/backend/internal/replicate"
)

const keyPrefix = "mrkniai:prediction:"

// RedisCache shares prediction payloads between instances.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, id string) (replicate.Prediction, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return replicate.Prediction{}, false, nil
	}
	if err != nil {
		return replicate.Prediction{}, false, fmt.Errorf("redis get %s: %w", id, err)
	}

	var p replicate.Prediction
	if err := json.Unmarshal(raw, &p); err != nil {
		return replicate.Prediction{}, false, fmt.Errorf("decode cached prediction %s: %w", id, err)
	}
	return p, true, nil
}

func (c *RedisCache) Set(ctx context.Context, id string, p replicate.Prediction, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode prediction %s: %w", id, err)
	}
	if err := c.client.Set(ctx, keyPrefix+id, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", id, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
