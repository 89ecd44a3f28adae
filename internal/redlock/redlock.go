// Package redlock implements a TTL-bounded advisory lock on Redis.
//
// The lock is cooperative: SET NX marks the key, expiry bounds how long a
// crashed holder can wedge it. Release is ownership-verified with a
// compare-and-delete script so a slow holder whose lease expired cannot
// delete the next holder's lock.
package redlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

type Locker struct {
	rdb *redis.Client
}

func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

// TryLock attempts to acquire key for at most ttl. On success it returns the
// token that must be presented to Unlock. ok is false when another holder
// owns the key; that is not an error.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock releases key if it is still held under token. Releasing a lock that
// expired or was taken over is a no-op.
func (l *Locker) Unlock(ctx context.Context, key, token string) error {
	if err := unlockScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
