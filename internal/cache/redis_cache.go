package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/mytireplan/tire-plan-sub001/internal/domain"
)

const writeStatusKeyPrefix = "writes:status:"

type RedisWriteStatusCache struct {
	client *redis.Client
}

func NewRedisWriteStatusCache(client *redis.Client) *RedisWriteStatusCache {
	return &RedisWriteStatusCache{client: client}
}

// NewRedisClient builds the client shared by the status cache and the
// write-back queue.
func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (c *RedisWriteStatusCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisWriteStatusCache) Close() error {
	return c.client.Close()
}

func (c *RedisWriteStatusCache) Get(ctx context.Context, intentID string) (*domain.WriteStatus, bool, error) {
	val, err := c.client.Get(ctx, writeStatusKeyPrefix+intentID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var status domain.WriteStatus
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return nil, false, err
	}
	return &status, true, nil
}

func (c *RedisWriteStatusCache) Set(ctx context.Context, status domain.WriteStatus, ttl time.Duration) error {
	if status.IntentID == "" {
		return nil
	}
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, writeStatusKeyPrefix+status.IntentID, payload, ttl).Err()
}
