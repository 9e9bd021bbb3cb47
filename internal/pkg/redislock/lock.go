// internal/pkg/redislock/lock.go
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when another holder owns the lock.
var ErrNotAcquired = errors.New("lock held by another instance")

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	client redis.UniversalClient
	prefix string
}

func NewLocker(client redis.UniversalClient, prefix string) *Locker {
	if prefix == "" {
		prefix = "lock"
	}
	return &Locker{client: client, prefix: prefix}
}

// Lock is a held lock. Release it exactly once.
type Lock struct {
	client redis.UniversalClient
	key    string
	token  string
}

// Acquire takes the named lock for ttl using SET NX PX.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	key := fmt.Sprintf("%s:%s", l.prefix, name)
	token := ulid.Make().String()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return &Lock{client: l.client, key: key, token: token}, nil
}

// Release deletes the lock if it has not expired and been taken by someone else.
func (k *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, k.client, []string{k.key}, k.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lock %s: %w", k.key, err)
	}
	return nil
}

// Key returns the redis key backing the lock.
func (k *Lock) Key() string {
	return k.key
}
