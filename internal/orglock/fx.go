package orglock

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/opsdash/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewLocker picks the Redis locker when a client is configured,
// otherwise the in-process locker.
func NewLocker(cfg config.Config, client *redis.Client, log *zap.Logger) Locker {
	if client != nil {
		return NewRedisLocker(client, cfg.OrgLock.AcquireTimeout, cfg.OrgLock.TTL, log)
	}
	return NewMemoryLocker(cfg.OrgLock.AcquireTimeout)
}

var Module = fx.Module("orglock",
	fx.Provide(NewLocker),
)
