package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/opsdash/internal/config"
	"go.uber.org/fx"
)

// NewWriteLimiter throttles mutating API requests per caller. Returns
// nil when rate limiting is disabled or Redis is not configured.
func NewWriteLimiter(cfg config.Config, client *redis.Client) *Limiter {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	return NewLimiter(client, cfg.RateLimit.WriteRate, cfg.RateLimit.WriteBurst)
}

var Module = fx.Module("rate.limit",
	fx.Provide(NewWriteLimiter),
)
