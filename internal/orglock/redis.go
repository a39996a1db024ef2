package orglock

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const lockKeyPrefix = "opsdash:orglock:"

// RedisLocker serializes writers across replicas using SET NX with a
// fencing token. The TTL bounds how long a crashed holder can block
// other writers.
type RedisLocker struct {
	client  *redis.Client
	script  *redis.Script
	timeout time.Duration
	ttl     time.Duration
	log     *zap.Logger
}

func NewRedisLocker(client *redis.Client, timeout, ttl time.Duration, log *zap.Logger) *RedisLocker {
	return &RedisLocker{
		client:  client,
		script:  redis.NewScript(lockReleaseScript),
		timeout: timeout,
		ttl:     ttl,
		log:     log.Named("orglock.redis"),
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, orgID snowflake.ID) (func(), error) {
	key := lockKeyPrefix + orgID.String()
	token := uuid.NewString()

	deadline := time.Now().Add(l.timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			release := func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := l.script.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
					l.log.Warn("failed to release org lock", zap.String("key", key), zap.Error(err))
				}
			}
			return release, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
