package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const snapshotKey = "discovery:snapshot"

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	TTL      time.Duration
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	key    string
	log    *zap.Logger
}

func NewRedisCache(cfg RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	logger.Info("connected to Redis", zap.String("addr", cfg.Addr))
	return newRedisCache(rdb, cfg.TTL, logger), nil
}

func newRedisCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{client: rdb, ttl: ttl, key: snapshotKey, log: logger}
}

func (c *RedisCache) Get(ctx context.Context) (*Snapshot, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", c.key, err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		// a corrupt entry behaves like a miss and is overwritten on refill
		c.log.Warn("discarding unreadable discovery snapshot", zap.Error(err))
		return nil, nil
	}
	return &s, nil
}

func (c *RedisCache) Set(ctx context.Context, s *Snapshot) error {
	if c.ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", c.key, err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", c.key, err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
