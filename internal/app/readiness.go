package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Pinger is the minimal interface for a component capable of Ping.
type Pinger interface{ Ping(ctx context.Context) error }

// BuildReadinessChecks returns the db, redis, and kafka readiness checks.
// A nil rdb or kafka yields a nil check, which the readyz handler skips.
func BuildReadinessChecks(pool Pinger, rdb *redis.Client, kafka Pinger) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	dbCheck := func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}
	var redisCheck func(ctx context.Context) error
	if rdb != nil {
		redisCheck = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
	}
	var kafkaCheck func(ctx context.Context) error
	if kafka != nil {
		kafkaCheck = func(ctx context.Context) error {
			return kafka.Ping(ctx)
		}
	}
	return dbCheck, redisCheck, kafkaCheck
}
