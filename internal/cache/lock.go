package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only when still held by the given token, so
// an expired-and-reacquired lock is never released by the previous holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0
`)

// Lock is a held distributed lock.
type Lock struct {
	key   string
	token string
}

// AcquireLock obtains a per-key lock, polling until acquired or the context
// expires. Keys are scoped per (restaurant, customer) pair so processing for
// one customer is serialized while other customers proceed independently.
func (r *Redis) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	for {
		ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return &Lock{key: key, token: token}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// ReleaseLock frees the lock if still held by the caller.
func (r *Redis) ReleaseLock(ctx context.Context, lock *Lock) error {
	if lock == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, r.client, []string{lock.key}, lock.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lock %s: %w", lock.key, err)
	}
	return nil
}
