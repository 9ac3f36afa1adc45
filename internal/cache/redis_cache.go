package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func sentKey(rowIndex int, date string) string {
	return fmt.Sprintf("sched:sent:%d:%s", rowIndex, date)
}

func (c *RedisCache) MarkSent(ctx context.Context, rowIndex int, date string) error {
	return c.rdb.Set(ctx, sentKey(rowIndex, date), "1", c.ttl).Err()
}

func (c *RedisCache) WasSent(ctx context.Context, rowIndex int, date string) (bool, error) {
	n, err := c.rdb.Exists(ctx, sentKey(rowIndex, date)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
