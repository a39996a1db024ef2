// Package redisconn provides the shared Redis client. The client is
// optional: a nil client makes dependents fall back to in-process
// implementations.
package redisconn

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/opsdash/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// New builds the Redis client, or nil when no address is configured.
func New(cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	log.Info("redis client configured", zap.String("addr", cfg.RedisAddr))
	return client
}

func registerHooks(lc fx.Lifecycle, client *redis.Client) {
	if client == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
}

var Module = fx.Module("redis",
	fx.Provide(New),
	fx.Invoke(registerHooks),
)
