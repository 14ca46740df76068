package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chronicle/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// maxCacheValueSize caps a single cached value
const maxCacheValueSize = 1024 * 1024

// Cache key prefixes
const (
	CacheKeyUserRolePrefix = "chronicle:user_role:"
)

// UserRoleCacheKey generates the cache key for a user's role
func UserRoleCacheKey(userID string) string {
	return CacheKeyUserRolePrefix + userID
}

// RedisCache is a JSON value cache shared between service instances
type RedisCache struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(addr, password string, db, poolSize int, logger *zap.SugaredLogger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	return &RedisCache{
		client: client,
		logger: logger,
	}
}

// Ping tests the Redis connection
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// Set stores a value with expiration
func (rc *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "marshal").Inc()
		return fmt.Errorf("failed to marshal cache value for key %s: %w", key, err)
	}
	if len(data) > maxCacheValueSize {
		metrics.CacheErrors.WithLabelValues("redis", "size_limit").Inc()
		return fmt.Errorf("cache value size %d bytes exceeds maximum allowed size %d bytes", len(data), maxCacheValueSize)
	}

	if err := rc.client.Set(ctx, key, data, expiration).Err(); err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "set").Inc()
		return err
	}
	return nil
}

// Get decodes a cached value into dest. found is false on a cache miss.
func (rc *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := rc.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		metrics.CacheErrors.WithLabelValues("redis", "get").Inc()
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		rc.logger.Warnw("Discarding undecodable cache value", "key", key, "error", err)
		metrics.CacheErrors.WithLabelValues("redis", "unmarshal").Inc()
		return false, err
	}
	return true, nil
}

// Delete removes a key from the cache
func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	return rc.client.Del(ctx, key).Err()
}
