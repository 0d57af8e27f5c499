// Package redis backs the query cache with a shared Redis instance so several
// API replicas can reuse each other's results. Expiry rides on the Redis TTL;
// the index version check happens on read, same as the in-memory cache.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tour-agent/backend/internal/storage/models"
	"github.com/tour-agent/backend/pkg/logger"
)

type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(host string, port int, password string, db int, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis cache initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Cache{client: client, ttl: ttl}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) Get(ctx context.Context, key string, indexVersion uint64) (*models.QueryResponse, bool) {
	data, err := c.client.Get(ctx, fmt.Sprintf("query:%s", key)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.Warn("Failed to read query cache", zap.Error(err))
		return nil, false
	}

	var resp models.QueryResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		logger.Warn("Failed to decode cached response", zap.Error(err))
		return nil, false
	}

	if resp.IndexVersion != indexVersion {
		return nil, false
	}

	return &resp, true
}

func (c *Cache) Set(ctx context.Context, key string, resp *models.QueryResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		logger.Warn("Failed to marshal response for cache", zap.Error(err))
		return
	}

	if err := c.client.Set(ctx, fmt.Sprintf("query:%s", key), data, c.ttl).Err(); err != nil {
		logger.Warn("Failed to write query cache", zap.Error(err))
	}
}
