/**
 * @description
 * Redis-backed run lock for the renewal batch. Two overlapping scheduler
 * invocations (a slow run plus a fresh cron tick, or a manual trigger) would
 * otherwise scan the same due subscriptions and waste gateway calls. The
 * atomic renewal-transaction claim is still the guard against double
 * charges; this lock only keeps concurrent runs from racing at all.
 */

package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const renewalLockKey = "billing:renewal_run_lock"

// RedisRunLock implements RunLock with a SET NX PX lease.
type RedisRunLock struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisRunLock creates a run lock with the given lease duration.
func NewRedisRunLock(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisRunLock {
	return &RedisRunLock{client: client, ttl: ttl, logger: logger}
}

// Acquire attempts to take the lease. It reports false when another run
// holds it.
func (l *RedisRunLock) Acquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, renewalLockKey, time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
}

// Release drops the lease. The TTL bounds the damage if this fails.
func (l *RedisRunLock) Release(ctx context.Context) {
	if err := l.client.Del(ctx, renewalLockKey).Err(); err != nil {
		l.logger.Warn("failed to release renewal run lock", "error", err)
	}
}
