package session

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/opsdash/internal/authorization"
	"github.com/smallbiznis/opsdash/internal/clock"
	"github.com/smallbiznis/opsdash/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewStore picks the Redis store when a client is configured, otherwise
// the in-process store.
func NewStore(client *redis.Client, clk clock.Clock) Store {
	if client != nil {
		return NewRedisStore(client)
	}
	return NewMemoryStore(clk)
}

func newService(cfg config.Config, store Store, authz authorization.Service, log *zap.Logger) Service {
	return NewService(store, authz, cfg.Session.TTL, log)
}

var Module = fx.Module("session",
	fx.Provide(
		NewStore,
		newService,
	),
)
