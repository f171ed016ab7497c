package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/datachat/datachat/internal/executor"
)

// RedisCache shares results across replicas. Backend failures surface as
// ErrUnavailable so the pipeline can degrade to always-execute.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (executor.Result, bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return executor.Result{}, false, nil
	}
	if err != nil {
		return executor.Result{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var result executor.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		// corrupt entry, treat as a miss and let the next Put overwrite it
		return executor.Result{}, false, nil
	}
	return result, true, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, result executor.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal cached result: %w", err)
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
