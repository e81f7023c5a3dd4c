package notification

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"notification-service/internal/common/logger"

	"github.com/redis/go-redis/v9"
)

// UnreadCache keeps per-user unread counts in Redis so the counter badge
// does not hit Postgres on every poll. Entries are short-lived and
// invalidated on any mutation; the store remains the source of truth.
type UnreadCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewUnreadCache(rdb *redis.Client, ttl time.Duration, log logger.Logger) *UnreadCache {
	return &UnreadCache{
		rdb:    rdb,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "unread-cache"}),
	}
}

func unreadKey(userID string) string {
	return fmt.Sprintf("notifications:unread:%s", userID)
}

// Get returns the cached count and whether it was present. Cache errors
// degrade to a miss.
func (c *UnreadCache) Get(ctx context.Context, userID string) (int64, bool) {
	val, err := c.rdb.Get(ctx, unreadKey(userID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("unread cache read failed", map[string]interface{}{
				"userId": userID,
				"error":  err.Error(),
			})
		}
		return 0, false
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}
	return count, true
}

func (c *UnreadCache) Set(ctx context.Context, userID string, count int64) {
	if err := c.rdb.Set(ctx, unreadKey(userID), count, c.ttl).Err(); err != nil {
		c.logger.Warn("unread cache write failed", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}
}

func (c *UnreadCache) Invalidate(ctx context.Context, userID string) {
	if err := c.rdb.Del(ctx, unreadKey(userID)).Err(); err != nil {
		c.logger.Warn("unread cache invalidation failed", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}
}
