// Package cache holds the Redis-backed cache of today's day info. The
// today view is read on every page load but changes only on menu, quantity
// and order writes, so a short TTL plus write-through invalidation keeps it
// fresh.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-lunch/internal/logger"
	"ms-lunch/internal/models"
)

const (
	todayInfoKey = "lunch:today_info"
	todayInfoTTL = 30 * time.Second
)

type TodayCache struct {
	Client *redis.Client
	Logger *logger.Logger
}

func NewTodayCache(client *redis.Client, log *logger.Logger) *TodayCache {
	return &TodayCache{Client: client, Logger: log}
}

func (c *TodayCache) GetTodayInfo(ctx context.Context) (*models.DayInfo, bool) {
	val, err := c.Client.Get(ctx, todayInfoKey).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.Logger.Warn("REDIS", fmt.Sprintf("Today-info cache read failed: %v", err))
		return nil, false
	}

	var info models.DayInfo
	if err := json.Unmarshal([]byte(val), &info); err != nil {
		c.Logger.Warn("REDIS", fmt.Sprintf("Today-info cache entry corrupt, dropping: %v", err))
		c.Invalidate(ctx)
		return nil, false
	}
	c.Logger.Debug("REDIS", "Today-info cache hit")
	return &info, true
}

func (c *TodayCache) SetTodayInfo(ctx context.Context, info *models.DayInfo) {
	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := c.Client.Set(ctx, todayInfoKey, data, todayInfoTTL).Err(); err != nil {
		c.Logger.Warn("REDIS", fmt.Sprintf("Today-info cache write failed: %v", err))
	}
}

func (c *TodayCache) Invalidate(ctx context.Context) {
	if err := c.Client.Del(ctx, todayInfoKey).Err(); err != nil && err != redis.Nil {
		c.Logger.Warn("REDIS", fmt.Sprintf("Today-info cache invalidation failed: %v", err))
	}
}
