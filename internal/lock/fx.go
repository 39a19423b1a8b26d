package lock

import (
	"github.com/apploom/apploom/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the redis client and locker. Both are nil when
// REDIS_ADDR is unset, which single-replica deployments leave empty.
var Module = fx.Module("lock",
	fx.Provide(func(cfg config.Config, log *zap.Logger) *redis.Client {
		if cfg.RedisAddr == "" {
			log.Named("lock").Info("redis not configured; dispatcher runs unlocked")
			return nil
		}
		return redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}),
	fx.Provide(NewLocker),
)
