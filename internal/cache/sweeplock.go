package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"ms-lunch/internal/logger"
)

const sweepLockKey = "lunch:sweep_lock"

// SweepLock is a Redis SetNX lease that keeps reconciliation sweeps from
// running on more than one service instance at a time. The in-process
// single-flight guard still applies; this covers the multi-replica case.
type SweepLock struct {
	Client *redis.Client
	Logger *logger.Logger

	owner string
	ttl   time.Duration
}

func NewSweepLock(client *redis.Client, ttl time.Duration, log *logger.Logger) *SweepLock {
	return &SweepLock{
		Client: client,
		Logger: log,
		owner:  uuid.New().String(),
		ttl:    ttl,
	}
}

// TryAcquire takes the sweep lease. A Redis failure acquires: losing the
// sweep entirely is worse than occasionally running it twice.
func (l *SweepLock) TryAcquire(ctx context.Context) bool {
	ok, err := l.Client.SetNX(ctx, sweepLockKey, l.owner, l.ttl).Result()
	if err != nil {
		l.Logger.Warn("REDIS", fmt.Sprintf("Sweep lock acquire failed, sweeping anyway: %v", err))
		return true
	}
	return ok
}

// Release drops the lease, but only if this instance still owns it. A lease
// that expired mid-sweep may already belong to someone else.
func (l *SweepLock) Release(ctx context.Context) {
	val, err := l.Client.Get(ctx, sweepLockKey).Result()
	if err == redis.Nil {
		return
	}
	if err != nil {
		l.Logger.Warn("REDIS", fmt.Sprintf("Sweep lock release failed: %v", err))
		return
	}
	if val != l.owner {
		return
	}
	if err := l.Client.Del(ctx, sweepLockKey).Err(); err != nil {
		l.Logger.Warn("REDIS", fmt.Sprintf("Sweep lock release failed: %v", err))
	}
}
