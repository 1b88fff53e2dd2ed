package redis

import (
	"context"
	"time"

	"reviewpoints-platform/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(New),
)

const (
	connectAttempts = 5
	connectBackoff  = 3 * time.Second
)

// New opens the shared redis client used for session storage, sequence
// counters and the task queue. Startup tolerates a briefly unavailable
// redis (container orchestration brings it up in parallel) by retrying
// before giving up to the first real command.
func New(lc fx.Lifecycle, c *config.Config) *redis.Client {
	log := zap.L().With(
		zap.String("addr", c.Redis.Addr),
		zap.Int("db", c.Redis.DB),
	)

	rdb := redis.NewClient(&redis.Options{
		Addr:        c.Redis.Addr,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		PoolSize:    c.Redis.PoolSize,
		PoolTimeout: c.Redis.PoolTimeout,
	})

	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if _, err := rdb.Ping(context.Background()).Result(); err == nil {
			log.Info("connected to redis")
			break
		} else if attempt == connectAttempts {
			log.Warn("redis unreachable after retries, continuing startup", zap.Error(err))
		} else {
			log.Warn("redis not ready, retrying", zap.Int("attempt", attempt), zap.Error(err))
			time.Sleep(connectBackoff)
		}
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})

	return rdb
}
