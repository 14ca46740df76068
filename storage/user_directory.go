package storage

import (
	"context"
	"time"

	"chronicle/core"
	"chronicle/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// CachedUserDirectory caches role lookups in a local expiring LRU, optionally
// backed by a Redis tier shared between instances. Lookup errors are never
// cached so a recovered directory is seen on the next call.
type CachedUserDirectory struct {
	next   core.UserDirectory
	local  *expirable.LRU[string, string]
	shared *core.RedisCache
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// NewCachedUserDirectory wraps next. shared may be nil.
func NewCachedUserDirectory(next core.UserDirectory, size int, ttl time.Duration, shared *core.RedisCache, logger *zap.SugaredLogger) *CachedUserDirectory {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedUserDirectory{
		next:   next,
		local:  expirable.NewLRU[string, string](size, nil, ttl),
		shared: shared,
		ttl:    ttl,
		logger: logger,
	}
}

// GetUserRole implements core.UserDirectory
func (c *CachedUserDirectory) GetUserRole(ctx context.Context, userID string) (string, error) {
	if role, ok := c.local.Get(userID); ok {
		metrics.UserRoleCacheHits.WithLabelValues("local").Inc()
		return role, nil
	}

	if c.shared != nil {
		var role string
		found, err := c.shared.Get(ctx, core.UserRoleCacheKey(userID), &role)
		if err != nil {
			c.logger.Debugw("Shared role cache unavailable", "user_id", userID, "error", err)
		} else if found {
			metrics.UserRoleCacheHits.WithLabelValues("shared").Inc()
			c.local.Add(userID, role)
			return role, nil
		}
	}

	role, err := c.next.GetUserRole(ctx, userID)
	if err != nil {
		return "", err
	}

	c.local.Add(userID, role)
	if c.shared != nil {
		if err := c.shared.Set(ctx, core.UserRoleCacheKey(userID), role, c.ttl); err != nil {
			c.logger.Debugw("Failed to populate shared role cache", "user_id", userID, "error", err)
		}
	}
	return role, nil
}

// Invalidate drops a user's cached role from both tiers
func (c *CachedUserDirectory) Invalidate(ctx context.Context, userID string) {
	c.local.Remove(userID)
	if c.shared != nil {
		if err := c.shared.Delete(ctx, core.UserRoleCacheKey(userID)); err != nil {
			c.logger.Debugw("Failed to invalidate shared role cache", "user_id", userID, "error", err)
		}
	}
}

// Len returns the number of locally cached roles
func (c *CachedUserDirectory) Len() int {
	return c.local.Len()
}
