package exclusive

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces exclusive tokens in Redis.
const DefaultKeyPrefix = "bpmcore:exclusive:"

// releaseScript deletes the token only if it still belongs to the caller.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker backed by Redis SET NX PX.
type RedisLocker struct {
	client goredis.Cmdable
	prefix string
}

var _ Locker = (*RedisLocker)(nil)

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithKeyPrefix replaces DefaultKeyPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLocker) { l.prefix = prefix }
}

// NewRedisLocker creates a locker over client.
func NewRedisLocker(client goredis.Cmdable, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{client: client, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	k := l.prefix + key

	ok, err := l.client.SetNX(ctx, k, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("bpmcore/exclusive: acquire setnx: %w", err)
	}
	if ok {
		return true, nil
	}

	// Re-entrant for the current holder.
	current, err := l.client.Get(ctx, k).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("bpmcore/exclusive: acquire get: %w", err)
	}
	if current != owner {
		return false, nil
	}
	if err := l.client.PExpire(ctx, k, ttl).Err(); err != nil {
		return false, fmt.Errorf("bpmcore/exclusive: acquire expire: %w", err)
	}
	return true, nil
}

// Release implements Locker.
func (l *RedisLocker) Release(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.prefix + key}, owner).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("bpmcore/exclusive: release: %w", err)
	}
	return nil
}
